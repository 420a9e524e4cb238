package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/podolabs/signaged/internal/models"
	"github.com/rs/zerolog"
)

func TestClient_SendsIdentityHeaders(t *testing.T) {
	var gotAuth, gotDevice string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("auth")
		gotDevice = r.Header.Get("device_id")
		json.NewEncoder(w).Encode(Device{DeviceID: "dev-1"}) //nolint:errcheck
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "tok-1", "dev-1", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetDevice(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "tok-1" || gotDevice != "dev-1" {
		t.Fatalf("headers: auth=%q device_id=%q", gotAuth, gotDevice)
	}
}

func TestClient_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "tok", "dev", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetNormalSchedule(context.Background()); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestClient_PostReportsEncodesBatch(t *testing.T) {
	var received []models.Report
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&received) //nolint:errcheck
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "tok", "dev", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	batch := []models.Report{{FileID: "F1", PlayedAt: time.Now()}}
	if err := client.PostReports(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if len(received) != 1 || received[0].FileID != "F1" {
		t.Fatalf("batch: %+v", received)
	}
}

func TestFileEntry_KindMapping(t *testing.T) {
	if got := (FileEntry{URLYN: "Y"}).Kind(); got != models.FileExternal {
		t.Fatalf("url_yn: got %s", got)
	}
	if got := (FileEntry{TagYN: "Y"}).Kind(); got != models.FileAdTag {
		t.Fatalf("tag_yn: got %s", got)
	}
	if got := (FileEntry{}).Kind(); got != models.FilePlain {
		t.Fatalf("default: got %s", got)
	}
}

func TestSchedule_CategoriesJoinsWindowsAndSlots(t *testing.T) {
	schedule := Schedule{
		Items: []CategoryWindow{
			{CategoryID: "c1", CategoryName: "Morning", StartDT: "2026-08-30 06:00:00", EndDT: "2026-08-30 12:00:00"},
			{CategoryID: "c2", CategoryName: "Orphan", StartDT: "2026-08-30 12:00:00", EndDT: "2026-08-30 18:00:00"},
		},
		Slots: []CategoryGroup{
			{
				CategoryID: "c1",
				MultiYN:    "Y",
				Slots: []Slot{
					{
						SlotID:     "s1",
						CategoryID: "c1",
						Files: []FileEntry{
							{FileID: "F1", VideoURL: "http://cdn/f1.mp4", RunningTime: 15},
						},
					},
				},
			},
		},
	}

	categories, err := schedule.Categories(time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if len(categories) != 2 {
		t.Fatalf("categories: got %d", len(categories))
	}

	c1 := categories[0]
	if c1.Start.Hour() != 6 || c1.End.Hour() != 12 {
		t.Fatalf("window: %v - %v", c1.Start, c1.End)
	}
	if len(c1.Slots) != 1 || !c1.Slots[0].MultiDay {
		t.Fatalf("slots: %+v", c1.Slots)
	}
	if c1.Slots[0].Files[0].RunningTime != 15*time.Second {
		t.Fatalf("running time: %v", c1.Slots[0].Files[0].RunningTime)
	}

	// Window without a slot group yields an empty category the compiler skips.
	if len(categories[1].Slots) != 0 {
		t.Fatalf("orphan window grew slots: %+v", categories[1].Slots)
	}
}

func TestSchedule_CategoriesRejectsBadTimestamp(t *testing.T) {
	schedule := Schedule{
		Items: []CategoryWindow{{CategoryID: "c1", StartDT: "not-a-time", EndDT: "2026-08-30 12:00:00"}},
	}
	if _, err := schedule.Categories(time.UTC); err == nil {
		t.Fatal("expected parse error")
	}
}
