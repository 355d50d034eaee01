package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/diag"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/mesh"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/routing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--plain"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestDecodeData(t *testing.T) {
	out, err := execute(t, "decode", "02 03 01 04 01 68 69")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, want := range []string{"data frame", "0x2", "0x3", "ttl", `"hi"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeHello(t *testing.T) {
	payload, err := protocol.EncodeHello([]protocol.HelloRoute{{Dest: 3, Hops: 1, Via: 3}})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := protocol.Encode(protocol.MeshFrame{Source: 2, Destination: protocol.Broadcast, NextHop: protocol.Broadcast, TTL: 1, Kind: protocol.KindHello, Payload: payload})
	out, err := execute(t, "decode", hex.EncodeToString(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(out, "hello frame") || !strings.Contains(out, "ADVERTISED") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := execute(t, "decode", "0102"); err == nil {
		t.Fatalf("short frame accepted")
	}
}

func TestRoutesCommand(t *testing.T) {
	now := time.Now()
	s := diag.Build("roof", 1, []routing.Entry{{Destination: 3, NextHop: 2, HopCount: 2, LastRefreshed: now}}, mesh.Stats{Forwarded: 5}, now)
	path := filepath.Join(t.TempDir(), "routes.cbor")
	if err := diag.Write(path, "", s); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "routes", path, "--counters")
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	for _, want := range []string{"roof", "DEST", "0x3", "forwarded", "5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
