package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pthm-cable/morphogen/models"
)

func execute(t *testing.T, args ...string) (stdout, stderr *bytes.Buffer, err error) {
	t.Helper()
	stdout, stderr = new(bytes.Buffer), new(bytes.Buffer)
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	return stdout, stderr, cmd.Execute()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestVersionJSON(t *testing.T) {
	stdout, _, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout %q is not JSON: %v", stdout, err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestJSONWriteErrorsAreReturned(t *testing.T) {
	for _, args := range [][]string{{"version", "--json"}, {"models", "--json"}} {
		cmd := newRootCmd()
		cmd.SetOut(failingWriter{})
		cmd.SetErr(new(bytes.Buffer))
		cmd.SetArgs(args)
		if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Errorf("%v: err = %v, want the write error", args, err)
		}
	}
}

func TestRunJSONKeepsLogsOffStdout(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "diffusion", "--steps", "3", "--json", "--log-format", "json")
	if err != nil && !errors.Is(err, errNotPassed) {
		t.Fatal(err)
	}

	var res models.Result
	dec := json.NewDecoder(stdout)
	if err := dec.Decode(&res); err != nil {
		t.Fatalf("stdout %q is not a JSON result: %v", stdout, err)
	}
	if dec.More() {
		t.Errorf("stdout has more than the result: %q", stdout)
	}
	if res.Model != "diffusion" || res.Ticks != 3 {
		t.Errorf("result = %+v, want diffusion after 3 ticks", res)
	}
	if !strings.Contains(stderr.String(), `"msg":"model finished"`) {
		t.Errorf("logs missing from stderr: %q", stderr)
	}
}
