package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential such as the webhook signing secret or the
// provider API key. Its String and MarshalJSON forms are redacted so that
// config dumps and log lines never carry the raw value.
type SecretString string

// String returns a redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// GoString keeps %#v redacted as well.
func (s SecretString) GoString() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw value. Call it only at the point of use
// (signature verification, Authorization header).
func (s SecretString) Unmask() string {
	return string(s)
}

// Empty reports whether no secret was configured.
func (s SecretString) Empty() bool {
	return s == ""
}
