// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeHandle struct {
	id  string
	ven uint16
}

func (h fakeHandle) ID() string       { return h.id }
func (h fakeHandle) VendorID() uint16 { return h.ven }

func TestValueUint64(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want uint64
		ok   bool
	}{
		{"numeric", Uint(42), 42, true},
		{"decimal text", Text(" 1024\n"), 1024, true},
		{"hex text", Text("0x10de"), 0x10de, true},
		{"garbage", Text("n/a"), 0, false},
		{"empty", Text(""), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.Uint64()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterVendor(t *testing.T) {
	handles := []Handle{
		fakeHandle{"card0", 0x8086},
		fakeHandle{"card1", 0x1002},
		fakeHandle{"card2", 0x1002},
	}
	amd := FilterVendor(handles, 0x1002)
	assert.Len(t, amd, 2)
	assert.Equal(t, "card1", amd[0].ID())
	assert.Empty(t, FilterVendor(handles, 0x10de))
}

func TestFieldIDString(t *testing.T) {
	assert.Equal(t, "power_microw", FieldPowerMicroW.String())
	assert.Equal(t, "FieldID(99)", FieldID(99).String())
}

func TestParseUint(t *testing.T) {
	n, ok := ParseUint("08")
	assert.True(t, ok)
	assert.Equal(t, uint64(8), n)

	n, ok = ParseUint("0X744C")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x744c), n)

	_, ok = ParseUint("-1")
	assert.False(t, ok)
}
