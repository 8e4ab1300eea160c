package log

import (
	"encoding/json"
	"time"
)

// Field is a structured log field.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a field with the provided key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Str(key, value string) Field { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Time(key string, value time.Time) Field { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any is an alias for F.
func Any(key string, value interface{}) Field { return F(key, value) }

// Json marshals value and stores the encoded string.
func Json(key string, value interface{}) Field {
	b, err := json.Marshal(value)
	if err != nil {
		return Field{Key: key, Value: err.Error()}
	}
	return Field{Key: key, Value: string(b)}
}

// Component tags an entry with the emitting component.
func Component(value string) Field { return Field{Key: ComponentKey, Value: value} }

// Unit tags an entry with a build unit name or id.
func Unit(value string) Field { return Field{Key: UnitKey, Value: value} }

// User tags an entry with an OS account name.
func User(value string) Field { return Field{Key: UserKey, Value: value} }
