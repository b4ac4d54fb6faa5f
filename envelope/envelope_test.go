package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	cerrors "github.com/vinayprograms/cellbus/errors"
)

const testSchema = "cbs/v1/Greeting"

// --- Unit Tests ---

func TestNewRequest(t *testing.T) {
	env := NewRequest("greeter", "say_hello", testSchema, json.RawMessage(`{"name":"Ada"}`))

	if _, err := uuid.Parse(env.ID); err != nil {
		t.Errorf("ID %q is not a UUID: %v", env.ID, err)
	}
	if env.IsError() {
		t.Error("request should not be an error")
	}
	if string(env.Payload) != `{"name":"Ada"}` {
		t.Errorf("Payload = %s", env.Payload)
	}
	if env.Subject() != "cbs.greeter.say_hello" {
		t.Errorf("Subject() = %q", env.Subject())
	}
}

func TestNewRequest_FreshIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env := NewRequest("greeter", "say_hello", testSchema, nil)
		if seen[env.ID] {
			t.Fatalf("duplicate id %q after %d requests", env.ID, i)
		}
		seen[env.ID] = true
	}
}

func TestResponsesPreserveID(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
	}{
		{"response", NewResponse("abc-123", "greeter", "say_hello", testSchema, json.RawMessage(`{}`))},
		{"error", NewError("abc-123", "greeter", "say_hello", testSchema, NewErrorDetails("BadRequest", "x"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env.ID != "abc-123" {
				t.Errorf("ID = %q, want %q", tt.env.ID, "abc-123")
			}
		})
	}
}

func TestMutualExclusion(t *testing.T) {
	tests := []struct {
		name    string
		env     *Envelope
		wantErr bool
	}{
		{"response", NewResponse("1", "a", "b", testSchema, json.RawMessage(`{"ok":true}`)), false},
		{"response_nil_payload", NewResponse("1", "a", "b", testSchema, nil), false},
		{"error", NewError("1", "a", "b", testSchema, NewErrorDetails("Internal", "boom")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasPayload := len(tt.env.Payload) > 0
			hasError := tt.env.Error != nil
			if hasPayload == hasError {
				t.Errorf("payload present = %v, error present = %v; want exactly one", hasPayload, hasError)
			}
			if tt.env.IsError() != tt.wantErr {
				t.Errorf("IsError() = %v, want %v", tt.env.IsError(), tt.wantErr)
			}
		})
	}
}

func TestNilPayloadIsNull(t *testing.T) {
	env := NewResponse("1", "a", "b", testSchema, nil)
	if string(env.Payload) != "null" {
		t.Errorf("Payload = %q, want null", env.Payload)
	}

	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(data), `"payload":null`) {
		t.Errorf("wire = %s, want payload null present", data)
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		service, verb, want string
	}{
		{"foo", "bar", "cbs.foo.bar"},
		{"greeter", "say_hello", "cbs.greeter.say_hello"},
		{"web_server", "health", "cbs.web_server.health"},
	}

	for _, tt := range tests {
		if got := Subject(tt.service, tt.verb); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.service, tt.verb, got, tt.want)
		}
	}
}

func TestQueueGroup(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"cbs.a.b", "a"},
		{"cbs.a", "a"},
		{"cbs.greeter.say_hello", "greeter"},
		{"no-prefix", "default"},
		{"other.a.b", "default"},
		{"cbs.", "default"},
		{"", "default"},
	}

	for _, tt := range tests {
		if got := QueueGroup(tt.subject); got != tt.want {
			t.Errorf("QueueGroup(%q) = %q, want %q", tt.subject, got, tt.want)
		}
	}
}

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject       string
		service, verb string
		ok            bool
	}{
		{"cbs.greeter.say_hello", "greeter", "say_hello", true},
		{"cbs.greeter", "", "", false},
		{"cbs.a.b.c", "", "", false},
		{"greeter.say_hello", "", "", false},
		{"cbs..b", "", "", false},
	}

	for _, tt := range tests {
		service, verb, ok := ParseSubject(tt.subject)
		if service != tt.service || verb != tt.verb || ok != tt.ok {
			t.Errorf("ParseSubject(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.subject, service, verb, ok, tt.service, tt.verb, tt.ok)
		}
	}
}

func TestValidateSegment(t *testing.T) {
	tests := []struct {
		segment string
		wantErr bool
	}{
		{"greeter", false},
		{"say_hello", false},
		{"v2", false},
		{"", true},
		{"Greeter", true},
		{"say-hello", true},
		{"2fast", true},
		{"a.b", true},
	}

	for _, tt := range tests {
		err := ValidateSegment(tt.segment)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSegment(%q) = %v, wantErr %v", tt.segment, err, tt.wantErr)
		}
		if err != nil && !cerrors.Is(err, cerrors.ErrCodeBadRequest) {
			t.Errorf("ValidateSegment(%q) code = %v, want BadRequest", tt.segment, cerrors.Code(err))
		}
	}
}

func TestValidateSubject(t *testing.T) {
	if err := ValidateSubject("cbs.greeter.say_hello"); err != nil {
		t.Errorf("valid subject rejected: %v", err)
	}
	for _, bad := range []string{"cbs.Greeter.say_hello", "cbs.greeter", "greeter.say_hello"} {
		if ValidateSubject(bad) == nil {
			t.Errorf("ValidateSubject(%q) should fail", bad)
		}
	}
}

// --- Codec Tests ---

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
	}{
		{"request", NewRequest("greeter", "say_hello", testSchema, json.RawMessage(`{"name":"Ada"}`))},
		{"response", NewResponse("id-1", "greeter", "say_hello", testSchema, json.RawMessage(`{"message":"Hello Ada!"}`))},
		{"error", NewError("id-2", "printer", "write", "cbs/v1/Print", NewErrorDetails("BadRequest", "x"))},
		{"error_with_context", NewError("id-3", "printer", "write", "cbs/v1/Print",
			NewErrorDetailsWithContext("Internal", "boom", json.RawMessage(`{"attempt":2}`)))},
		{"error_without_route", NewError("bad", "", "", "", NewErrorDetails("BadRequest", "missing service"))},
		{"zero", &Envelope{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.env)
			if err != nil {
				t.Fatalf("Marshal error: %v", err)
			}
			decoded, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if !reflect.DeepEqual(decoded, tt.env) {
				t.Errorf("round trip = %+v, want %+v", decoded, tt.env)
			}
		})
	}
}

func TestMarshalOmitsAbsentFields(t *testing.T) {
	resp, _ := Marshal(NewResponse("1", "a", "b", testSchema, json.RawMessage(`{}`)))
	if strings.Contains(string(resp), `"error"`) {
		t.Errorf("response wire = %s, should omit error", resp)
	}

	errEnv, _ := Marshal(NewError("1", "a", "b", testSchema, NewErrorDetails("NotFound", "x")))
	if strings.Contains(string(errEnv), `"payload"`) {
		t.Errorf("error wire = %s, should omit payload", errEnv)
	}
	if strings.Contains(string(errEnv), `"details"`) {
		t.Errorf("error wire = %s, should omit empty details", errEnv)
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not_json", `not json`},
		{"wrong_type", `{"id": 5}`},
		{"array", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			if !cerrors.Is(err, cerrors.ErrCodeSerialization) {
				t.Errorf("Unmarshal error = %v, want Serialization", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
		want string
	}{
		{"request", NewRequest("greeter", "say_hello", testSchema, nil), ""},
		{"missing_id", &Envelope{Service: "a", Verb: "b"}, "missing id"},
		{"missing_service", &Envelope{ID: "1", Verb: "b"}, "missing service"},
		{"missing_verb", &Envelope{ID: "1", Service: "a"}, "missing verb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !cerrors.Is(err, cerrors.ErrCodeBadRequest) || cerrors.MessageOf(err) != tt.want {
				t.Errorf("Validate() = %v, want BadRequest %q", err, tt.want)
			}
		})
	}
}

func TestPayloadHelpers(t *testing.T) {
	payload, err := EncodePayload(map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}
	env := NewRequest("greeter", "say_hello", testSchema, payload)

	var in struct {
		Name string `json:"name"`
	}
	if err := env.DecodePayload(&in); err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}
	if in.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", in.Name)
	}

	bad := &Envelope{ID: "1", Service: "a", Verb: "b", Payload: json.RawMessage(`[1,2]`)}
	if err := bad.DecodePayload(&in); !cerrors.Is(err, cerrors.ErrCodeBadRequest) {
		t.Errorf("DecodePayload(array) = %v, want BadRequest", err)
	}

	if _, err := EncodePayload(make(chan int)); !cerrors.Is(err, cerrors.ErrCodeSerialization) {
		t.Errorf("EncodePayload(chan) = %v, want Serialization", err)
	}
}

// --- Error mapping ---

func TestDetailsFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{"bad_request", cerrors.BadRequest("x"), "BadRequest", "x"},
		{"not_found", cerrors.NotFound("no such thing"), "NotFound", "no such thing"},
		{"timeout", cerrors.Timeout("slow"), "Timeout", "slow"},
		{"connection_collapses", cerrors.Connection("down"), "Internal", "down"},
		{"plain_error", errors.New("boom"), "Internal", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DetailsFromError(tt.err)
			if d.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", d.Code, tt.wantCode)
			}
			if d.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", d.Message, tt.wantMsg)
			}
		})
	}
}

func TestErrorDetailsErr(t *testing.T) {
	tests := []struct {
		code string
		want cerrors.ErrorCode
	}{
		{"BadRequest", cerrors.ErrCodeBadRequest},
		{"NotFound", cerrors.ErrCodeNotFound},
		{"Timeout", cerrors.ErrCodeTimeout},
		{"Internal", cerrors.ErrCodeInternal},
		{"SomethingNew", cerrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		err := NewErrorDetailsWithContext(tt.code, "m", json.RawMessage(`{"k":1}`)).Err()
		if cerrors.Code(err) != tt.want {
			t.Errorf("Err() code for %q = %v, want %v", tt.code, cerrors.Code(err), tt.want)
		}
		if cerrors.MessageOf(err) != "m" {
			t.Errorf("Err() message = %q, want m", cerrors.MessageOf(err))
		}
		if string(cerrors.AsError(err).Details()) != `{"k":1}` {
			t.Errorf("Err() details = %s", cerrors.AsError(err).Details())
		}
	}
}

func TestResponseToAndErrorTo(t *testing.T) {
	req := NewRequest("greeter", "say_hello", testSchema, json.RawMessage(`{}`))

	resp := ResponseTo(req, json.RawMessage(`{"message":"hi"}`))
	if resp.ID != req.ID || resp.Subject() != req.Subject() || resp.Schema != req.Schema {
		t.Errorf("ResponseTo = %+v", resp)
	}

	errResp := ErrorTo(req, cerrors.BadRequest("x"))
	if errResp.ID != req.ID || !errResp.IsError() || errResp.Error.Code != "BadRequest" {
		t.Errorf("ErrorTo = %+v", errResp)
	}
}
