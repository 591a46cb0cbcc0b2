package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		errMsg  string
		wantErr bool
	}{
		{name: "uuid", id: "3f2b8c1e-7d4a-4b9e-9c1f-2a6d8e0b5c7a"},
		{name: "short", id: "p1"},
		{name: "with dots and colons", id: "user.1:device_2"},
		{name: "single character", id: "a"},
		{name: "max length", id: strings.Repeat("a", MaxIDLen)},
		{name: "empty", id: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "too long", id: strings.Repeat("a", MaxIDLen+1), wantErr: true, errMsg: "must not exceed"},
		{name: "leading dash", id: "-p1", wantErr: true, errMsg: "can only contain"},
		{name: "slash", id: "a/b", wantErr: true, errMsg: "can only contain"},
		{name: "space", id: "a b", wantErr: true, errMsg: "can only contain"},
		{name: "cyrillic", id: "пульс", wantErr: true, errMsg: "can only contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("document id", tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Contains(t, err.Error(), "document id")
				return
			}
			assert.NoError(t, err)
		})
	}
}
