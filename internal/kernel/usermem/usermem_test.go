package usermem_test

import (
	"testing"

	"github.com/DarwinGalicia/chaparrOS/internal/kernel/usermem"
	"github.com/stretchr/testify/require"
)

func TestGetPutUserRoundTrip(t *testing.T) {
	s := usermem.New(16)
	ok := s.PutUser(4, 0x42)
	require.True(t, ok)
	v, ok := s.GetUser(4)
	require.True(t, ok)
	require.Equal(t, byte(0x42), v)
}

func TestGetUserOutOfRangeFails(t *testing.T) {
	s := usermem.New(16)
	_, ok := s.GetUser(16)
	require.False(t, ok)
	_, ok = s.GetUser(-1)
	require.False(t, ok)
}

func TestGetUserAbovePhysBaseFails(t *testing.T) {
	s := usermem.New(16).WithPhysBase(8)
	_, ok := s.GetUser(10)
	require.False(t, ok)
	_, ok = s.GetUser(7)
	require.True(t, ok)
}

func TestGetUserBytesAtomicFailure(t *testing.T) {
	s := usermem.New(16)
	buf, ok := s.GetUserBytes(10, 10)
	require.False(t, ok)
	require.Nil(t, buf)
}

func TestGetUserBytesAndPutUserBytesRoundTrip(t *testing.T) {
	s := usermem.New(16)
	ok := s.PutUserBytes(0, []byte("hello"))
	require.True(t, ok)
	buf, ok := s.GetUserBytes(0, 5)
	require.True(t, ok)
	require.Equal(t, "hello", string(buf))
}

func TestGetUserStringTerminatesOnNUL(t *testing.T) {
	s := usermem.New(16)
	s.PutUserBytes(0, []byte("hi\x00garbage"))
	str, ok := s.GetUserString(0, 16)
	require.True(t, ok)
	require.Equal(t, "hi", str)
}

func TestGetUserStringExceedsMaxLenFails(t *testing.T) {
	s := usermem.New(16)
	s.PutUserBytes(0, []byte("no terminator.."))
	_, ok := s.GetUserString(0, 8)
	require.False(t, ok)
}

func TestProbeRecoversPanic(t *testing.T) {
	ok := usermem.Probe(func() {
		var s []int
		_ = s[5]
	})
	require.False(t, ok)
}

func TestProbeReturnsTrueWhenNoPanic(t *testing.T) {
	ok := usermem.Probe(func() {})
	require.True(t, ok)
}
