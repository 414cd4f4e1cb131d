package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"john.doe@example.com": "jo***e@example.com",
		"abc@x.test":           "ab***c@x.test",
		"ab@x.test":            "ab***b@x.test",
		"a@x.test":             "a***a@x.test",
		"@x.test":              "***",
		"not-an-email":         "***",
	}
	for in, want := range tests {
		assert.Equal(t, want, MaskEmail(in), in)
	}
}

func TestMaskIP(t *testing.T) {
	assert.Equal(t, "192.168.***.***", MaskIP("192.168.1.20"))
	assert.Equal(t, "10.0.***.***", MaskIP(" 10.0.0.1 "))
	assert.Equal(t, "***", MaskIP("2001:db8::1"))
	assert.Equal(t, "***", MaskIP(""))
}

func TestMaskComponent(t *testing.T) {
	assert.Equal(t, "abcd", MaskComponent("abcd"))
	assert.Equal(t, "abcd**", MaskComponent("abcdef"))
	assert.Equal(t, "", MaskComponent(""))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", MaskSecret("KEY-L1"))
	assert.Equal(t, "ABCD****EFGH", MaskSecret("ABCD-1234-EFGH"))
}
