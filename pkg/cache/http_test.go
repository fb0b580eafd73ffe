package cache

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"
)

func newTestResponse(body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestResponseToEntry(t *testing.T) {
	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)
	lastMod := time.Now().Add(-1 * time.Hour).UTC().Truncate(time.Second)

	resp := newTestResponse(`{"cost": 412.50}`, map[string]string{
		"ETag":          `"fare-etag-1"`,
		"Expires":       expires.Format(http.TimeFormat),
		"Last-Modified": lastMod.Format(http.TimeFormat),
	})

	entry, err := ResponseToEntry(resp)
	if err != nil {
		t.Fatalf("ResponseToEntry() error = %v", err)
	}

	if string(entry.Data) != `{"cost": 412.50}` {
		t.Errorf("Data = %q, want cost payload", entry.Data)
	}
	if entry.ETag != `"fare-etag-1"` {
		t.Errorf("ETag = %q, want fare-etag-1", entry.ETag)
	}
	if !entry.Expires.Equal(expires) {
		t.Errorf("Expires = %v, want %v", entry.Expires, expires)
	}
	if !entry.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, lastMod)
	}

	// Body must be restored for the caller
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"cost": 412.50}` {
		t.Error("Response body was not restored after reading")
	}
}

func TestResponseToEntry_NilResponse(t *testing.T) {
	if _, err := ResponseToEntry(nil); err == nil {
		t.Error("Expected error for nil response")
	}
}

func TestParseExpires(t *testing.T) {
	tests := []struct {
		name       string
		expires    string
		wantWithin time.Duration // expected expiry relative to now, with slack
	}{
		{
			name:       "missing header uses default TTL",
			expires:    "",
			wantWithin: DefaultTTL,
		},
		{
			name:       "unparseable header uses default TTL",
			expires:    "not-a-date",
			wantWithin: DefaultTTL,
		},
		{
			name:       "past expires clamps to now",
			expires:    time.Now().Add(-1 * time.Hour).UTC().Format(http.TimeFormat),
			wantWithin: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.expires != "" {
				h.Set("Expires", tt.expires)
			}

			got := parseExpires(h)
			diff := time.Until(got)

			if diff > tt.wantWithin+time.Second || diff < tt.wantWithin-time.Second {
				t.Errorf("parseExpires() expires in %v, want ~%v", diff, tt.wantWithin)
			}
		})
	}
}

func TestShouldMakeConditionalRequest(t *testing.T) {
	tests := []struct {
		name  string
		entry *Entry
		want  bool
	}{
		{
			name:  "nil entry",
			entry: nil,
			want:  false,
		},
		{
			name:  "entry with etag",
			entry: &Entry{ETag: `"abc"`},
			want:  true,
		},
		{
			name:  "entry with last modified",
			entry: &Entry{LastModified: time.Now()},
			want:  true,
		},
		{
			name:  "entry with neither",
			entry: &Entry{},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldMakeConditionalRequest(tt.entry); got != tt.want {
				t.Errorf("ShouldMakeConditionalRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	t.Run("prefers etag", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "http://example.com/fares", nil)
		entry := &Entry{ETag: `"abc"`, LastModified: time.Now()}

		AddConditionalHeaders(req, entry)

		if got := req.Header.Get("If-None-Match"); got != `"abc"` {
			t.Errorf("If-None-Match = %q, want abc", got)
		}
		if req.Header.Get("If-Modified-Since") != "" {
			t.Error("If-Modified-Since should not be set when ETag is present")
		}
	})

	t.Run("falls back to last modified", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "http://example.com/fares", nil)
		lastMod := time.Now().UTC().Truncate(time.Second)
		entry := &Entry{LastModified: lastMod}

		AddConditionalHeaders(req, entry)

		if got := req.Header.Get("If-Modified-Since"); got != lastMod.Format(http.TimeFormat) {
			t.Errorf("If-Modified-Since = %q, want %q", got, lastMod.Format(http.TimeFormat))
		}
	})
}

func TestEntryToResponse(t *testing.T) {
	entry := &Entry{
		Data:       []byte(`{"cost": 618.00}`),
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}

	resp := EntryToResponse(entry)
	if resp == nil {
		t.Fatal("EntryToResponse returned nil")
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"cost": 618.00}` {
		t.Errorf("Body = %q, want cost payload", body)
	}
}
