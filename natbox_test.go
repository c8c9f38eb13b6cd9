package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"go.universe.tf/nattable/config"
	"go.universe.tf/nattable/flowtable"
)

const (
	lanIndex = 2
	wanIndex = 3
)

func TestPipeline(t *testing.T) {
	p := &pipeline{
		translator: newTestTranslator(t),
		lanIndex:   lanIndex,
		wanIndex:   wanIndex,
	}

	verdict, out := p.process(lanIndex, buildPacket(t, lanFlow))
	require.Equal(t, VerdictMangle, verdict)
	require.Equal(t, buildPacket(t, wanFlow), out)

	verdict, out = p.process(wanIndex, buildPacket(t, wanFlow.Reverse()))
	require.Equal(t, VerdictMangle, verdict)
	require.Equal(t, buildPacket(t, lanFlow.Reverse()), out)

	// Right packet, wrong side.
	verdict, out = p.process(wanIndex, buildPacket(t, lanFlow))
	require.Equal(t, VerdictDrop, verdict)
	require.Nil(t, out)

	// Unknown ingress interface.
	verdict, _ = p.process(42, buildPacket(t, lanFlow))
	require.Equal(t, VerdictDrop, verdict)

	// Not a packet we can parse.
	verdict, _ = p.process(lanIndex, []byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, VerdictDrop, verdict)
}

func TestBuildTable(t *testing.T) {
	cfg, err := config.Parse([]byte(`
mappings:
  - protocol: tcp
    internal: {src: "10.0.0.1:1337", dst: "10.0.0.2:2000"}
    external: {src: "172.168.0.1:420", dst: "8.8.8.8:9593"}
  - protocol: icmp
    internal: {src: "10.0.0.1", dst: "8.8.8.8"}
    external: {src: "172.168.0.1", dst: "8.8.8.8"}
`))
	require.NoError(t, err)

	table, err := buildTable(cfg, flowtable.NewMetrics(nil))
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	got, ok := table.GetExternal(lanFlow)
	require.True(t, ok)
	require.Equal(t, wanFlow, got)
	got, ok = table.GetInternal(wanPing)
	require.True(t, ok)
	require.Equal(t, lanPing, got)
}

func TestBuildTableRejectsDuplicates(t *testing.T) {
	cfg, err := config.Parse([]byte(`
mappings:
  - protocol: udp
    internal: {src: "10.0.0.1:53", dst: "8.8.8.8:53"}
    external: {src: "172.168.0.1:53", dst: "8.8.8.8:53"}
  - protocol: udp
    internal: {src: "10.0.0.2:53", dst: "8.8.8.8:53"}
    external: {src: "172.168.0.1:53", dst: "8.8.8.8:53"}
`))
	require.NoError(t, err)

	_, err = buildTable(cfg, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, flowtable.ErrCollision))
	require.Contains(t, err.Error(), "static mapping 1")

	var collision *flowtable.CollisionError
	require.ErrorAs(t, err, &collision)
	require.False(t, collision.InternalTaken)
	require.True(t, collision.ExternalTaken)
	require.Equal(t, layers.IPProtocolUDP, collision.External.Protocol)
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	// Keep cli.Exit from terminating the test binary.
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"natbox"}, args...))
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "natbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log-level: warn
mappings:
  - protocol: tcp
    internal: {src: "10.0.0.1:1337", dst: "10.0.0.2:2000"}
    external: {src: "172.168.0.1:420", dst: "8.8.8.8:9593"}
`), 0644))

	out, err := runApp(t, "check", "--config", path)
	require.NoError(t, err)
	require.Equal(t, "tcp 10.0.0.1:1337->10.0.0.2:2000 <=> tcp 172.168.0.1:420->8.8.8.8:9593\n", out)

	_, err = runApp(t, "check", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	// Flags override the file.
	_, err = runApp(t, "check", "--config", path, "--lan-interface", "eth1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must differ")

	_, err = runApp(t, "check", "--config", path, "--queue", "70000")
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}

func TestLoadConfigDefaults(t *testing.T) {
	var cfg *config.Config
	app := newApp()
	app.Commands = []*cli.Command{{
		Name:  "probe",
		Flags: configFlags,
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfig(c)
			return err
		},
	}}
	app.ExitErrHandler = func(*cli.Context, error) {}

	require.NoError(t, app.Run([]string{"natbox", "probe", "--queue", "9", "--metrics-address", ":9642"}))
	require.Equal(t, uint16(9), cfg.Queue)
	require.Equal(t, ":9642", cfg.MetricsAddress)
	require.Equal(t, config.DefaultLANInterface, cfg.LANInterface)
	require.Equal(t, config.DefaultWANInterface, cfg.WANInterface)
	require.Empty(t, cfg.Mappings)
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "natbox, version"), out)
}
