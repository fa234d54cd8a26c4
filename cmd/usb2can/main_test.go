package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fastTiming = `
[timing]
settle_delay = 1ms
frame_interval = 0s
`

func run(t *testing.T, args ...string) (string, error) {
	out := &bytes.Buffer{}
	root := newRootCmd(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, content []byte) string {
	path := filepath.Join(t.TempDir(), name)
	require.Nil(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestConfigureDryRun(t *testing.T) {
	out, err := run(t, "--dry-run", "configure")
	assert.Nil(t, err)
	assert.Contains(t, out, "adapter configured (13/13 steps acknowledged)")
	assert.Contains(t, out, "> 0F 02 00")
	assert.Contains(t, out, "> 0F 12 02 1C C0")
	assert.Equal(t, 13, strings.Count(out, "> 0F"))
}

func TestSendDryRun(t *testing.T) {
	out, err := run(t, "--dry-run", "send", "--id", "0x123", "--data", "DE AD")
	assert.Nil(t, err)
	assert.Contains(t, out, "> 0F 40 05 02 24 60 DE AD")
	// The adapter keeps its configuration, only the message is written
	assert.Equal(t, 1, strings.Count(out, "> 0F"))
	assert.Contains(t, out, "CAN message sent")
}

func TestSendRejectedBeforeIO(t *testing.T) {
	out, err := run(t, "--dry-run", "send", "--id", "0x123", "--data", "010203040506070809")
	assert.NotNil(t, err)
	assert.NotContains(t, out, "> 0F")

	_, err = run(t, "--dry-run", "send", "--id", "0x800")
	assert.NotNil(t, err)
}

func TestReadDryRun(t *testing.T) {
	out, err := run(t, "--dry-run", "read")
	assert.Nil(t, err)
	assert.Contains(t, out, "> 0F 41 00")
	assert.Equal(t, 1, strings.Count(out, "> 0F"))
	assert.NotContains(t, out, "> 0F 12 02 00 01")
}

func TestDisconnectDryRun(t *testing.T) {
	out, err := run(t, "--dry-run", "disconnect")
	assert.Nil(t, err)
	assert.Contains(t, out, "> 0F 02 00\n> 0F 01 00\n> 0F 12 02 00 01")
	assert.Contains(t, out, "adapter disconnected")
}

func TestUploadDryRun(t *testing.T) {
	config := writeFile(t, "usb2can.ini", []byte(fastTiming))
	image := writeFile(t, "app.bin", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	out, err := run(t, "--dry-run", "--config", config, "upload", "--file", image, "--plain")
	assert.Nil(t, err)
	assert.Contains(t, out, "> 0F 40 0B 08 02 20 FE ED FA CE CA FE BE EF")
	assert.Contains(t, out, "> 0F 40 0B 08 02 40 00 00 00 00 00 00 00 0A")
	assert.Contains(t, out, "> 0F 40 0B 08 02 60 01 02 03 04 05 06 07 08")
	assert.Contains(t, out, "> 0F 40 0B 08 02 60 09 0A FF FF FF FF FF FF")
	assert.Contains(t, out, "firmware uploaded (10 bytes)")
}

func TestUploadErrors(t *testing.T) {
	_, err := run(t, "--dry-run", "upload", "--plain")
	assert.NotNil(t, err)

	image := writeFile(t, "app.bin", []byte{1})
	out, err := run(t, "--dry-run", "upload", "--file", image, "--password", "CAFE", "--plain")
	assert.NotNil(t, err)
	assert.NotContains(t, out, "> 0F")

	_, err = run(t, "--dry-run", "upload", "--file", image, "--profile", "chunked", "--plain")
	assert.NotNil(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "--dry-run", "configure")
	assert.NotNil(t, err)
}

func TestParseFrame(t *testing.T) {
	frame, err := parseFrame("291", "01:02")
	assert.Nil(t, err)
	assert.EqualValues(t, 0x123, frame.ID)
	assert.Equal(t, []byte{1, 2}, frame.Payload())

	_, err = parseFrame("x", "")
	assert.NotNil(t, err)
	_, err = parseFrame("1", "0G")
	assert.NotNil(t, err)
}
