package genapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Shape identifies which documented response layout a payload matched.
type Shape int

const (
	ShapeMalformed Shape = iota
	ShapeDataOutputs
	ShapeRootOutputs
	ShapeDataOutput
	ShapeRootOutput
	ShapeRootImages
	ShapePending
)

func (s Shape) String() string {
	switch s {
	case ShapeDataOutputs:
		return "data.outputs"
	case ShapeRootOutputs:
		return "outputs"
	case ShapeDataOutput:
		return "data.output"
	case ShapeRootOutput:
		return "output"
	case ShapeRootImages:
		return "images"
	case ShapePending:
		return "pending"
	default:
		return "malformed"
	}
}

// Result is the decoded provider reply. Exactly one variant is populated:
// Outputs for the image shapes, TaskID for ShapePending, neither for
// ShapeMalformed.
type Result struct {
	Shape   Shape
	Outputs []string
	Seed    *int64
	TaskID  string
	// Code and Message carry a body-level status reported alongside a 2xx.
	Code    int
	Message string
}

// Pending reports whether the provider accepted the request asynchronously.
func (r Result) Pending() bool {
	return r.Shape == ShapePending
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Outputs json.RawMessage `json:"outputs"`
	Output  json.RawMessage `json:"output"`
	Images  json.RawMessage `json:"images"`
	Seed    flexInt         `json:"seed"`
	Status  flexString      `json:"status"`
	ID      flexString      `json:"id"`
	TaskID  flexString      `json:"task_id"`
	Code    flexInt         `json:"code"`
	Message flexString      `json:"message"`
	Error   json.RawMessage `json:"error"`

	data dataNode
}

type dataNode struct {
	Outputs json.RawMessage `json:"outputs"`
	Output  json.RawMessage `json:"output"`
	Seed    flexInt         `json:"seed"`
	Status  flexString      `json:"status"`
	ID      flexString      `json:"id"`
	TaskID  flexString      `json:"task_id"`
	Error   flexString      `json:"error"`
}

type matcher struct {
	shape Shape
	match func(env *envelope) ([]string, *int64)
}

// matchers are tried in order; the first that yields at least one URL wins.
var matchers = []matcher{
	{ShapeDataOutputs, func(env *envelope) ([]string, *int64) { return decodeURLs(env.data.Outputs), env.data.Seed.ptr() }},
	{ShapeRootOutputs, func(env *envelope) ([]string, *int64) { return decodeURLs(env.Outputs), env.Seed.ptr() }},
	{ShapeDataOutput, func(env *envelope) ([]string, *int64) { return decodeURLs(env.data.Output), env.data.Seed.ptr() }},
	{ShapeRootOutput, func(env *envelope) ([]string, *int64) { return decodeURLs(env.Output), env.Seed.ptr() }},
	{ShapeRootImages, func(env *envelope) ([]string, *int64) { return decodeURLs(env.Images), env.Seed.ptr() }},
}

// Decode normalizes a 2xx provider body into a Result.
func Decode(raw []byte) Result {
	if !json.Valid(raw) {
		return Result{Shape: ShapeMalformed, Message: "response is not valid JSON"}
	}
	if !isObject(raw) {
		return Result{Shape: ShapeMalformed, Message: "response is not a JSON object"}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{Shape: ShapeMalformed, Message: "response could not be decoded: " + err.Error()}
	}
	if isObject(env.Data) {
		_ = json.Unmarshal(env.Data, &env.data)
	}

	for _, m := range matchers {
		if urls, seed := m.match(&env); len(urls) > 0 {
			return Result{Shape: m.shape, Outputs: urls, Seed: seed}
		}
	}

	if taskID, ok := pendingTask(&env); ok {
		return Result{Shape: ShapePending, TaskID: taskID}
	}

	res := Result{Shape: ShapeMalformed, Code: int(env.Code.value), Message: env.message()}
	if res.Message == "" {
		res.Message = "no recognised output shape"
	}
	return res
}

func pendingTask(env *envelope) (string, bool) {
	if isProcessing(env.data.Status.value) {
		if id := firstNonEmpty(env.data.ID.value, env.data.TaskID.value, env.ID.value, env.TaskID.value); id != "" {
			return id, true
		}
	}
	if isProcessing(env.Status.value) {
		if id := firstNonEmpty(env.ID.value, env.TaskID.value, env.data.ID.value, env.data.TaskID.value); id != "" {
			return id, true
		}
	}
	return "", false
}

func isProcessing(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "processing")
}

func (env *envelope) message() string {
	if msg := strings.TrimSpace(env.Message.value); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(env.data.Error.value); msg != "" {
		return msg
	}
	if len(env.Error) > 0 {
		var s string
		if err := json.Unmarshal(env.Error, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Error, &obj); err == nil {
			return strings.TrimSpace(obj.Message)
		}
	}
	return ""
}

// decodeURLs accepts a string, an object with a url field, or an array of
// either.
func decodeURLs(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		var out []string
		for _, item := range items {
			if url := decodeURL(item); url != "" {
				out = append(out, url)
			}
		}
		return out
	}
	if url := decodeURL(raw); url != "" {
		return []string{url}
	}
	return nil
}

func decodeURL(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		URL      string `json:"url"`
		ImageURL string `json:"image_url"`
		Image    string `json:"image"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(firstNonEmpty(obj.URL, obj.ImageURL, obj.Image))
	}
	return ""
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// flexString decodes a JSON string, number or boolean as text. Objects,
// arrays and null leave it empty instead of failing the whole body.
type flexString struct {
	value string
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			f.value = s
		}
	case '{', '[', 'n':
	default:
		f.value = string(b)
	}
	return nil
}

// flexInt decodes a JSON number or numeric string.
type flexInt struct {
	value int64
	set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		v = int64(fv)
	}
	f.value, f.set = v, true
	return nil
}

func (f flexInt) ptr() *int64 {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}
