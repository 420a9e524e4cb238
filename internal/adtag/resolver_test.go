package adtag

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const validTag = `<?xml version="1.0"?>
<VAST version="3.0">
  <Ad>
    <InLine>
      <Impression><![CDATA[ http://ads.example/impression?id=42 ]]></Impression>
      <Creatives>
        <Creative>
          <Linear>
            <MediaFiles>
              <MediaFile type="video/mp4" width="1920" height="1080">
                http://ads.example/creative.mp4
              </MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

const emptyTag = `<?xml version="1.0"?><VAST version="3.0"></VAST>`

const wrongTypeTag = `<?xml version="1.0"?>
<VAST version="3.0">
  <Ad><InLine>
    <Impression>http://ads.example/imp</Impression>
    <MediaFiles>
      <MediaFile type="application/x-shockwave-flash">http://ads.example/creative.swf</MediaFile>
    </MediaFiles>
  </InLine></Ad>
</VAST>`

func TestResolve_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, validTag)
	}))
	defer server.Close()

	resolver := New(time.Second, zerolog.Nop())
	resolution, err := resolver.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !resolution.Success {
		t.Fatal("expected success")
	}
	if resolution.VideoURL != "http://ads.example/creative.mp4" {
		t.Fatalf("video url: got %q", resolution.VideoURL)
	}
	if resolution.ReportURL != "http://ads.example/impression?id=42" {
		t.Fatalf("report url: got %q", resolution.ReportURL)
	}
}

func TestResolve_ExhaustsAfterThreeAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, emptyTag)
	}))
	defer server.Close()

	resolver := New(time.Second, zerolog.Nop())
	resolution, err := resolver.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resolution.Success {
		t.Fatal("expected failure")
	}
	if hits.Load() != 3 {
		t.Fatalf("attempts: got %d want 3", hits.Load())
	}
}

func TestResolve_SucceedsOnSecondAttempt(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, emptyTag)
			return
		}
		fmt.Fprint(w, validTag)
	}))
	defer server.Close()

	resolver := New(time.Second, zerolog.Nop())
	resolution, err := resolver.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !resolution.Success {
		t.Fatal("expected success on second attempt")
	}
	if hits.Load() != 2 {
		t.Fatalf("attempts: got %d want 2", hits.Load())
	}
}

func TestResolve_WrongMediaTypeRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, wrongTypeTag)
	}))
	defer server.Close()

	resolver := New(time.Second, zerolog.Nop())
	resolution, err := resolver.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resolution.Success {
		t.Fatal("wrong media type must not resolve")
	}
	if hits.Load() != 3 {
		t.Fatalf("attempts: got %d want 3", hits.Load())
	}
}

func TestResolve_NetworkFailureConsumesAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	resolver := New(time.Second, zerolog.Nop())
	resolution, err := resolver.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resolution.Success {
		t.Fatal("expected failure")
	}
}
