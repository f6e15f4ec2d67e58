package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/types"
)

func testContent() *encoding.Encoded {
	return &encoding.Encoded{Bytes: []byte("pixels"), MIME: "image/jpeg", Width: 200, Height: 100}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(testContent())
	b := Fingerprint(testContent())
	if a != b {
		t.Errorf("fingerprint of identical content differs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	other := Fingerprint(&encoding.Encoded{Bytes: []byte("other pixels")})
	if a == other {
		t.Error("different content must not collide")
	}
}

func TestClientRecognize(t *testing.T) {
	var gotReq recognizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recognize" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(recognizeResponse{
			Regions: []types.Region{
				{RecognizedText: "A", TranslatedText: "B", Box: types.Quad{0, 0, 100, 100}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	opts := types.DefaultOptions()
	opts.SelectedOptions = map[string]string{"lang": "jpn"}

	content := testContent()
	fp := Fingerprint(content)
	regions, err := c.Recognize(context.Background(), fp, content, opts)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(regions) != 1 || regions[0].TranslatedText != "B" {
		t.Errorf("unexpected regions: %+v", regions)
	}
	if gotReq.Fingerprint != fp {
		t.Errorf("fingerprint not forwarded: %q", gotReq.Fingerprint)
	}
	if gotReq.MIME != "image/jpeg" || gotReq.ImageB64 != content.Base64() {
		t.Error("content not forwarded intact")
	}
	if gotReq.Options["lang"] != "jpn" {
		t.Error("selected options not forwarded")
	}
}

func TestClientBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(errorResponse{Message: "quota exceeded"})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.Recognize(context.Background(), "fp", testContent(), types.DefaultOptions())

	var bre *BadResponseError
	if !errors.As(err, &bre) {
		t.Fatalf("expected *BadResponseError, got %T: %v", err, err)
	}
	if bre.Status != 500 || bre.Message != "quota exceeded" {
		t.Errorf("wrong error payload: status=%d message=%q", bre.Status, bre.Message)
	}
}

func TestClientBadResponseWithoutPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.Recognize(context.Background(), "fp", testContent(), types.DefaultOptions())

	var bre *BadResponseError
	if !errors.As(err, &bre) {
		t.Fatalf("expected *BadResponseError, got %T", err)
	}
	if bre.Status != 403 {
		t.Errorf("status = %d, want 403", bre.Status)
	}
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c, _ := NewClient(srv.URL)
	_, err := c.Recognize(context.Background(), "fp", testContent(), types.DefaultOptions())

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
}

func TestClientMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.Recognize(context.Background(), "fp", testContent(), types.DefaultOptions())

	var ue *UnknownError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnknownError, got %T: %v", err, err)
	}
}

func TestClientEndpointOverride(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		json.NewEncoder(w).Encode(recognizeResponse{})
	}))
	defer srv.Close()

	// Base URL points nowhere; the per-call endpoint option wins.
	c, _ := NewClient("http://localhost:1")
	opts := types.DefaultOptions()
	opts.Endpoint = srv.URL + "/"

	if _, err := c.Recognize(context.Background(), "fp", testContent(), opts); err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !hit {
		t.Error("endpoint override was not used")
	}
}

func TestClientTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req translateRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(translateResponse{Text: "[" + req.Text + "]"})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	got, err := c.Translate(context.Background(), "hello", types.DefaultOptions())
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "[hello]" {
		t.Errorf("Translate = %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want interface{}
	}{
		{"nil", nil, nil},
		{"passthrough network", &NetworkError{Err: errors.New("x")}, &NetworkError{}},
		{"passthrough bad response", &BadResponseError{Status: 500}, &BadResponseError{}},
		{"passthrough unknown", &UnknownError{Err: errors.New("x")}, &UnknownError{}},
		{"wrapped taxonomy", fmt.Errorf("episode: %w", &BadResponseError{Status: 404}), &BadResponseError{}},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("refused")}, &NetworkError{}},
		{"plain", errors.New("boom"), &UnknownError{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Classify(test.err)
			switch test.want.(type) {
			case nil:
				if got != nil {
					t.Errorf("Classify(nil) = %v", got)
				}
			case *NetworkError:
				var ne *NetworkError
				if !errors.As(got, &ne) {
					t.Errorf("expected *NetworkError, got %T", got)
				}
			case *BadResponseError:
				var bre *BadResponseError
				if !errors.As(got, &bre) {
					t.Errorf("expected *BadResponseError, got %T", got)
				}
			case *UnknownError:
				var ue *UnknownError
				if !errors.As(got, &ue) {
					t.Errorf("expected *UnknownError, got %T", got)
				}
			}
		})
	}
}

func TestParseRegions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			"plain object",
			`{"regions": [{"recognized_text": "A", "translated_text": "B", "box": [0, 0, 100, 50]}]}`,
		},
		{
			"fenced with trailing comma",
			"```json\n" + `{"regions": [
				{"recognized_text": "A", "translated_text": "B", "box": [0, 0, 100, 50]},
			]}` + "\n```",
		},
		{
			"prose around the object",
			`Here are the regions: {"regions": [{"recognized_text": "A", "translated_text": "B", "box": [0, 0, 100, 50]}]} Hope that helps!`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			regions, err := parseRegions(test.raw)
			if err != nil {
				t.Fatalf("parseRegions failed: %v", err)
			}
			if len(regions) != 1 {
				t.Fatalf("expected 1 region, got %d", len(regions))
			}
			r := regions[0]
			if r.RecognizedText != "A" || r.TranslatedText != "B" || r.Box[2] != 100 {
				t.Errorf("unexpected region: %+v", r)
			}
		})
	}
}

func TestParseRegionsRejectsNonJSON(t *testing.T) {
	_, err := parseRegions("I see a cat in this image.")
	var ue *UnknownError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnknownError, got %T: %v", err, err)
	}
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"plain", `{"regions":[]}`},
		{"fenced", "```json\n{\"regions\":[]}\n```"},
		{"trailing comma", `{"regions":[{"box":[1,2,3,4]},]}`},
		{"block comment", `{"regions":[] /* none found */}`},
		{"line comment", "{\n// nothing here\n\"regions\":[]\n}"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := sanitizeModelJSON(test.in)
			var decoded interface{}
			if err := json.Unmarshal([]byte(got), &decoded); err != nil {
				t.Fatalf("sanitized output is not valid JSON: %q", got)
			}
		})
	}
}
