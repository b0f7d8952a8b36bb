package main

import (
	"path/filepath"
	"reflect"
	"testing"

	"assistant/pkg/config"
)

func TestServiceConfig_DefaultArguments(t *testing.T) {
	originalConfigPath := configPath
	t.Cleanup(func() {
		configPath = originalConfigPath
	})

	configPath = ""
	t.Setenv(config.ConfigPathEnv, "")

	got := ServiceConfig().Arguments
	want := []string{"gateway", "run"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected arguments %v, got %v", want, got)
	}
}

func TestServiceConfig_IncludesConfigFlagFromGlobalConfigPath(t *testing.T) {
	originalConfigPath := configPath
	t.Cleanup(func() {
		configPath = originalConfigPath
	})

	configFile := filepath.Join(t.TempDir(), "service-config.json")
	configPath = configFile
	t.Setenv(config.ConfigPathEnv, "")

	got := ServiceConfig().Arguments
	want := []string{"-c", configFile, "gateway", "run"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected arguments %v, got %v", want, got)
	}
}

func TestServiceConfig_UsesConfigPathEnvWhenFlagNotProvided(t *testing.T) {
	originalConfigPath := configPath
	t.Cleanup(func() {
		configPath = originalConfigPath
	})

	configPath = ""
	configFile := filepath.Join(t.TempDir(), "env-config.json")
	t.Setenv(config.ConfigPathEnv, configFile)

	got := ServiceConfig().Arguments
	want := []string{"-c", configFile, "gateway", "run"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected arguments %v, got %v", want, got)
	}
}

func TestApplyConfigPathExportsFlag(t *testing.T) {
	originalConfigPath := configPath
	t.Cleanup(func() {
		configPath = originalConfigPath
	})

	t.Setenv(config.ConfigPathEnv, "")
	configPath = filepath.Join(t.TempDir(), "flag.yaml")
	applyConfigPath()

	loader := config.NewLoader()
	if _, err := loader.Load(""); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loader.GetConfigPath(); got != configPath {
		t.Fatalf("expected loader to use %s, got %s", configPath, got)
	}
}
