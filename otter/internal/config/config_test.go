// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnvs() {
	for _, k := range []string{
		envOtterTracePath,
		envOtterTraceName,
		envOtterAppendHostname,
		envOtterArchiveFormat,
		envOtterEventModel,
		envOtterTaskSwitchMode,
		envOtterSuppressInitialTaskCreate,
		envOtterCopyMaps,
		envOtterStringCacheSize,
		envOtterSqliteBatchSize,
		envOtterDisabled,
		envOtterConfigFile,
	} {
		os.Unsetenv(k)
	}
}

func TestDefaultConfig(t *testing.T) {
	clearEnvs()
	c := NewConfig()
	assert.Equal(t, "trace", c.GetTracePath())
	assert.Equal(t, "otter_trace", c.GetTraceName())
	assert.False(t, c.GetAppendHostname())
	assert.Equal(t, FormatBSON, c.GetFormat())
	assert.Equal(t, EventModelTaskGraph, c.GetEventModel())
	assert.Equal(t, TaskSwitchDiscrete, c.GetTaskSwitchMode())
	assert.True(t, c.GetSuppressInitialTaskCreate())
	assert.True(t, c.GetCopyMemoryMap())
	assert.Equal(t, 1048576, c.GetStringCacheSize())
	assert.Equal(t, 10000, c.GetBatchSize())
	assert.False(t, c.GetDisabled())
	assert.Empty(t, c.GetDelta().items())
}

func TestLoadConfig(t *testing.T) {
	clearEnvs()
	defer clearEnvs()

	os.Setenv(envOtterTracePath, "/tmp/otter")
	os.Setenv(envOtterArchiveFormat, " MsgPack ")
	os.Setenv(envOtterTaskSwitchMode, "PAIR")
	os.Setenv(envOtterAppendHostname, "yes")
	os.Setenv(envOtterDisabled, "true")

	c := NewConfig()
	assert.Equal(t, "/tmp/otter", c.GetTracePath())
	assert.Equal(t, FormatMsgpack, c.GetFormat())
	assert.Equal(t, TaskSwitchPair, c.GetTaskSwitchMode())
	assert.True(t, c.GetAppendHostname())
	assert.True(t, c.GetDisabled())

	os.Setenv(envOtterTracePath, "/var/tmp")
	os.Setenv(envOtterDisabled, "false")
	require.NoError(t, c.RefreshConfig())
	assert.Equal(t, "/var/tmp", c.GetTracePath())
	assert.False(t, c.GetDisabled())

	c = NewConfig(
		WithTracePath("elsewhere"),
		WithFormat("sqlite"),
		WithTraceName("run"))
	assert.Equal(t, "elsewhere", c.GetTracePath())
	assert.Equal(t, FormatSqlite, c.GetFormat())
	assert.Equal(t, "run", c.GetTraceName())

	// invalid values fall back to the defaults
	os.Setenv(envOtterArchiveFormat, "otf2")
	os.Setenv(envOtterEventModel, "mpi")
	os.Setenv(envOtterTaskSwitchMode, "sometimes")
	os.Setenv(envOtterStringCacheSize, "16")
	os.Setenv(envOtterDisabled, "invalidValue")
	require.NoError(t, c.RefreshConfig())
	assert.Equal(t, FormatBSON, c.GetFormat())
	assert.Equal(t, EventModelTaskGraph, c.GetEventModel())
	assert.Equal(t, TaskSwitchDiscrete, c.GetTaskSwitchMode())
	assert.Equal(t, 1048576, c.GetStringCacheSize())
	assert.False(t, c.GetDisabled())
}

func TestLoadYamlConfig(t *testing.T) {
	clearEnvs()
	defer clearEnvs()

	dir := t.TempDir()
	path := filepath.Join(dir, "otter.yaml")
	content := []byte("tracepath: /data/traces\ntracename: nightly\neventmodel: serial\nbatchsize: 5\n")
	require.NoError(t, os.WriteFile(path, content, 0644))
	os.Setenv(envOtterConfigFile, path)

	c := NewConfig()
	assert.Equal(t, "/data/traces", c.GetTracePath())
	assert.Equal(t, "nightly", c.GetTraceName())
	assert.Equal(t, EventModelSerial, c.GetEventModel())
	assert.Equal(t, 5, c.GetBatchSize())

	// env variables override the file
	os.Setenv(envOtterTraceName, "override")
	require.NoError(t, c.RefreshConfig())
	assert.Equal(t, "override", c.GetTraceName())

	delta := c.GetDelta().String()
	assert.Contains(t, delta, "TraceName(OTTER_TRACE_NAME)=override (default=otter_trace)")
}

func TestConfigFileErrors(t *testing.T) {
	clearEnvs()
	defer clearEnvs()

	dir := t.TempDir()
	bad := filepath.Join(dir, "otter.json")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0644))
	os.Setenv(envOtterConfigFile, bad)

	c := newConfig()
	err := c.RefreshConfig()
	assert.Error(t, err)

	// NewConfig falls back to the defaults and still applies the options
	c = NewConfig(WithTraceName("kept"))
	assert.Equal(t, "kept", c.GetTraceName())
	assert.Equal(t, FormatBSON, c.GetFormat())

	big := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(big, make([]byte, maxConfigFileSize+1), 0644))
	assert.Error(t, c.checkFileSize(big))
}

func TestSetterIsPreferred(t *testing.T) {
	c := newConfig()
	field, ok := reflect.TypeOf(c).Elem().FieldByName("Format")
	require.True(t, ok)
	setField(c, field, reflect.ValueOf(" SQLITE "))
	assert.Equal(t, FormatSqlite, c.Format)
}
