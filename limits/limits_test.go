package limits

import (
	"crypto/rand"
	"errors"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

// TestEncryptionOverheadMatchesNaCl verifies that EncryptionOverhead matches
// the actual Poly1305 tag overhead used by the noise cipher suite (the same
// tag size NaCl box uses).
func TestEncryptionOverheadMatchesNaCl(t *testing.T) {
	if EncryptionOverhead != box.Overhead {
		t.Errorf("EncryptionOverhead = %d, want %d (box.Overhead)", EncryptionOverhead, box.Overhead)
	}
}

// TestMaxSecureMessageCalculation verifies MaxSecureMessage is correctly
// calculated as MaxMessagePayload + EncryptionOverhead.
func TestMaxSecureMessageCalculation(t *testing.T) {
	expected := MaxMessagePayload + EncryptionOverhead
	if MaxSecureMessage != expected {
		t.Errorf("MaxSecureMessage = %d, want %d (MaxMessagePayload + EncryptionOverhead)",
			MaxSecureMessage, expected)
	}
}

func TestValidateMessagePayload(t *testing.T) {
	tests := []struct {
		name      string
		message   []byte
		wantErr   error
		checkWrap bool
	}{
		{name: "empty message", message: []byte{}, wantErr: ErrMessageEmpty},
		{name: "nil message", message: nil, wantErr: ErrMessageEmpty},
		{name: "valid small message", message: []byte(`{"id":0,"command":"identify"}`), wantErr: nil},
		{name: "valid max-size message", message: make([]byte, MaxMessagePayload), wantErr: nil},
		{
			name:      "message too large",
			message:   make([]byte, MaxMessagePayload+1),
			wantErr:   ErrMessageTooLarge,
			checkWrap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessagePayload(tt.message)
			if tt.checkWrap {
				if err == nil || !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateMessagePayload() error = %v, should wrap %v", err, tt.wantErr)
				}
			} else if err != tt.wantErr {
				t.Errorf("ValidateMessagePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSecureMessage(t *testing.T) {
	tests := []struct {
		name      string
		message   []byte
		wantErr   error
		checkWrap bool
	}{
		{name: "empty message", message: []byte{}, wantErr: ErrMessageEmpty},
		{name: "nil message", message: nil, wantErr: ErrMessageEmpty},
		{name: "valid small secure message", message: make([]byte, 100+EncryptionOverhead), wantErr: nil},
		{name: "valid max-size secure message", message: make([]byte, MaxSecureMessage), wantErr: nil},
		{
			name:      "secure message too large",
			message:   make([]byte, MaxSecureMessage+1),
			wantErr:   ErrMessageTooLarge,
			checkWrap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecureMessage(tt.message)
			if tt.checkWrap {
				if err == nil || !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateSecureMessage() error = %v, should wrap %v", err, tt.wantErr)
				}
			} else if err != tt.wantErr {
				t.Errorf("ValidateSecureMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConstantConsistency(t *testing.T) {
	if MaxSecureMessage <= MaxMessagePayload {
		t.Errorf("MaxSecureMessage (%d) should be > MaxMessagePayload (%d)", MaxSecureMessage, MaxMessagePayload)
	}
	if MaxStoredValue <= MaxSecureMessage {
		t.Errorf("MaxStoredValue (%d) should be > MaxSecureMessage (%d)", MaxStoredValue, MaxSecureMessage)
	}
	if MaxFrameBytes <= MaxStoredValue {
		t.Errorf("MaxFrameBytes (%d) should be > MaxStoredValue (%d)", MaxFrameBytes, MaxStoredValue)
	}
	if EncryptionOverhead <= 0 {
		t.Errorf("EncryptionOverhead must be positive, got %d", EncryptionOverhead)
	}
	if MaxSecureMessage != MaxMessagePayload+EncryptionOverhead {
		t.Errorf("MaxSecureMessage (%d) != MaxMessagePayload (%d) + EncryptionOverhead (%d)",
			MaxSecureMessage, MaxMessagePayload, EncryptionOverhead)
	}
}

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name      string
		message   []byte
		maxSize   int
		wantErr   error
		checkWrap bool
	}{
		{name: "empty message", message: []byte{}, maxSize: 100, wantErr: ErrMessageEmpty},
		{name: "valid message within limit", message: make([]byte, 50), maxSize: 100, wantErr: nil},
		{name: "message at exact limit", message: make([]byte, 100), maxSize: 100, wantErr: nil},
		{
			name:      "message exceeds limit",
			message:   make([]byte, 101),
			maxSize:   100,
			wantErr:   ErrMessageTooLarge,
			checkWrap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.maxSize)
			if tt.checkWrap {
				if err == nil || !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateMessageSize() error = %v, should wrap %v", err, tt.wantErr)
				}
			} else if err != tt.wantErr {
				t.Errorf("ValidateMessageSize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStoredValue(t *testing.T) {
	tests := []struct {
		name      string
		message   []byte
		wantErr   error
		checkWrap bool
	}{
		{name: "empty value", message: []byte{}, wantErr: ErrMessageEmpty},
		{name: "nil value", message: nil, wantErr: ErrMessageEmpty},
		{name: "valid small value", message: make([]byte, 256), wantErr: nil},
		{name: "valid medium value", message: make([]byte, 4096), wantErr: nil},
		{name: "valid max-size value", message: make([]byte, MaxStoredValue), wantErr: nil},
		{
			name:      "value too large",
			message:   make([]byte, MaxStoredValue+1),
			wantErr:   ErrMessageTooLarge,
			checkWrap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStoredValue(tt.message)
			if tt.checkWrap {
				if err == nil || !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateStoredValue() error = %v, should wrap %v", err, tt.wantErr)
				}
			} else if err != tt.wantErr {
				t.Errorf("ValidateStoredValue() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFrameBytes(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantErr   error
		checkWrap bool
	}{
		{name: "empty data", data: []byte{}, wantErr: ErrMessageEmpty},
		{name: "nil data", data: nil, wantErr: ErrMessageEmpty},
		{name: "valid small frame", data: make([]byte, 100), wantErr: nil},
		{name: "valid medium frame", data: make([]byte, 65536), wantErr: nil},
		{name: "valid max-size frame", data: make([]byte, MaxFrameBytes), wantErr: nil},
		{
			name:      "frame exceeds limit",
			data:      make([]byte, MaxFrameBytes+1),
			wantErr:   ErrMessageTooLarge,
			checkWrap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameBytes(tt.data)
			if tt.checkWrap {
				if err == nil || !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateFrameBytes() error = %v, should wrap %v", err, tt.wantErr)
				}
			} else if err != tt.wantErr {
				t.Errorf("ValidateFrameBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestErrorContextFormat(t *testing.T) {
	tests := []struct {
		name        string
		validate    func() error
		wantContain string
	}{
		{
			name: "payload too large",
			validate: func() error {
				return ValidateMessagePayload(make([]byte, MaxMessagePayload+100))
			},
			wantContain: "message too large",
		},
		{
			name: "secure message too large",
			validate: func() error {
				return ValidateSecureMessage(make([]byte, MaxSecureMessage+50))
			},
			wantContain: "message too large",
		},
		{
			name: "stored value too large",
			validate: func() error {
				return ValidateStoredValue(make([]byte, MaxStoredValue+10))
			},
			wantContain: "message too large",
		},
		{
			name: "frame too large",
			validate: func() error {
				return ValidateFrameBytes(make([]byte, MaxFrameBytes+5))
			},
			wantContain: "message too large",
		},
		{
			name: "generic validate too large",
			validate: func() error {
				return ValidateMessageSize(make([]byte, 200), 100)
			},
			wantContain: "message too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !contains(err.Error(), tt.wantContain) {
				t.Errorf("error message %q should contain %q", err.Error(), tt.wantContain)
			}
		})
	}
}

// contains checks if s contains substr (avoids importing strings for one check).
func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func BenchmarkValidateMessagePayload(b *testing.B) {
	message := make([]byte, MaxMessagePayload)
	rand.Read(message)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ValidateMessagePayload(message)
	}
}

func BenchmarkValidateSecureMessage(b *testing.B) {
	message := make([]byte, MaxSecureMessage)
	rand.Read(message)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ValidateSecureMessage(message)
	}
}

func BenchmarkValidateStoredValue(b *testing.B) {
	message := make([]byte, MaxStoredValue)
	rand.Read(message)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ValidateStoredValue(message)
	}
}

func BenchmarkValidateFrameBytes(b *testing.B) {
	data := make([]byte, MaxFrameBytes)
	rand.Read(data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ValidateFrameBytes(data)
	}
}
