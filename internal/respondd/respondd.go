// Package respondd gives tolerant access to the respondd documents (nodeinfo, statistics, neighbours)
// that the daemon stores as a node's last response.
package respondd

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// FieldError reports a field that is absent or has an unexpected JSON type.
type FieldError struct {
	Path string
	Want string // expected type; empty when the field is absent
}

func (e *FieldError) Error() string {
	if e.Want == "" {
		return "missing " + e.Path
	}
	return fmt.Sprintf("%s is not %s", e.Path, e.Want)
}

// Response wraps one respondd document.
type Response struct {
	root gjson.Result
}

// Parse does not validate; lookups on invalid JSON simply find nothing.
func Parse(raw []byte) Response {
	return Response{root: gjson.ParseBytes(raw)}
}

// Get returns the value at path, which may not exist.
func (r Response) Get(path string) gjson.Result {
	return r.root.Get(path)
}

// Raw returns the raw JSON of the value at path, or nil.
func (r Response) Raw(path string) []byte {
	v := r.root.Get(path)
	if !v.Exists() {
		return nil
	}
	return []byte(v.Raw)
}

// Require returns the value at path or a *FieldError.
func (r Response) Require(path string) (gjson.Result, error) {
	return require(r.root, path, path)
}

// String requires a JSON string at path.
func (r Response) String(path string) (string, error) {
	v, err := r.Require(path)
	if err != nil {
		return "", err
	}
	if v.Type != gjson.String {
		return "", &FieldError{Path: path, Want: "a string"}
	}
	return v.Str, nil
}

// Number requires a JSON number at path.
func (r Response) Number(path string) (float64, error) {
	return Number(r.root, path, path)
}

// Object requires a JSON object at path.
func (r Response) Object(path string) (gjson.Result, error) {
	v, err := r.Require(path)
	if err != nil {
		return v, err
	}
	if !v.IsObject() {
		return v, &FieldError{Path: path, Want: "an object"}
	}
	return v, nil
}

// Number requires a JSON number at path below v. name is the full path used in errors.
func Number(v gjson.Result, path, name string) (float64, error) {
	res, err := require(v, path, name)
	if err != nil {
		return 0, err
	}
	if res.Type != gjson.Number {
		return 0, &FieldError{Path: name, Want: "a number"}
	}
	return res.Num, nil
}

func require(v gjson.Result, path, name string) (gjson.Result, error) {
	res := v.Get(path)
	if !res.Exists() {
		return res, &FieldError{Path: name}
	}
	return res, nil
}
