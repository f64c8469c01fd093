package group

import "sync"

// varKind tags the stored value type.
type varKind int

const (
	varString varKind = iota
	varInt
)

type varValue struct {
	kind varKind
	s    string
	i    int64
}

// Vars is a small typed key→value store shared by a party, used by
// scripted encounter logic. Reads of the wrong type miss rather than
// coerce.
type Vars struct {
	mu sync.Mutex
	m  map[string]varValue
}

// NewVars creates an empty store.
func NewVars() *Vars {
	return &Vars{m: make(map[string]varValue)}
}

// SetString stores a string value under key, replacing any previous value.
func (v *Vars) SetString(key, val string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = varValue{kind: varString, s: val}
}

// GetString returns the string stored under key.
//
// Postcondition: Returns ("", false) if the key is absent or holds a
// different type.
func (v *Vars) GetString(key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.m[key]
	if !ok || val.kind != varString {
		return "", false
	}
	return val.s, true
}

// SetInt stores an integer value under key, replacing any previous value.
func (v *Vars) SetInt(key string, val int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = varValue{kind: varInt, i: val}
}

// GetInt returns the integer stored under key.
//
// Postcondition: Returns (0, false) if the key is absent or holds a
// different type.
func (v *Vars) GetInt(key string) (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.m[key]
	if !ok || val.kind != varInt {
		return 0, false
	}
	return val.i, true
}

// Delete removes the key.
func (v *Vars) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, key)
}

// Len returns the number of stored keys.
func (v *Vars) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.m)
}

// Strings returns a copy of all string-typed entries, used when the party
// record is persisted.
func (v *Vars) Strings() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]string)
	for k, val := range v.m {
		if val.kind == varString {
			out[k] = val.s
		}
	}
	return out
}
