package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_ServeCommand_FailsWithoutSessionStore(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run(serve) should fail when the session store is unreachable")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("error = %v, should mention database", err)
	}
}

func TestRun_WorkerCommand_FailsWithoutSessionStore(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"worker"}); err == nil {
		t.Fatal("Run(worker) should fail when the session store is unreachable")
	}
}

func TestRun_RedisStore_FailsWithoutRedis(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1/0")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run(serve) should fail when redis is unreachable")
	}
	if !strings.Contains(err.Error(), "redis") {
		t.Errorf("error = %v, should mention redis", err)
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
	if !strings.Contains(err.Error(), "initialization failed") {
		t.Errorf("error = %v", err)
	}
}
