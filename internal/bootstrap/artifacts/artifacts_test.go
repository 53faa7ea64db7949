package artifacts

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenABI = `[{"type":"constructor","inputs":[{"name":"supply","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable",
 "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
 "outputs":[{"name":"","type":"bool"}]}]`

func artifactJSON(bytecode string) []byte {
	return []byte(`{"abi":` + tokenABI + `,"bytecode":` + bytecode + `}`)
}

func TestParse_BytecodeForms(t *testing.T) {
	tests := []struct {
		name     string
		bytecode string
	}{
		{name: "string form", bytecode: `"0x6080"`},
		{name: "object form", bytecode: `{"object":"0x6080"}`},
		{name: "no prefix", bytecode: `"6080"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := Parse("MockERC20", artifactJSON(tc.bytecode))
			require.NoError(t, err)

			code, err := a.Code()
			require.NoError(t, err)
			assert.Equal(t, []byte{0x60, 0x80}, code)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("Bad", []byte(`not json`))
	assert.Error(t, err)

	_, err = Parse("NoABI", []byte(`{"bytecode":"0x00"}`))
	assert.ErrorContains(t, err, "missing abi")

	a, err := Parse("Interface", []byte(`{"abi":[],"bytecode":""}`))
	require.NoError(t, err)
	_, err = a.Code()
	assert.ErrorIs(t, err, ErrNoBytecode)

	malformed := []struct {
		name     string
		bytecode string
		wantErr  string
	}{
		{"unlinked library", `"0x6080__$abcdef$__6040"`, "unlinked library placeholders"},
		{"odd length", `"0x608"`, "odd length"},
		{"not hex", `{"object":"0x60zz"}`, "invalid hex"},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			a, err := Parse("MockERC20", artifactJSON(tc.bytecode))
			require.NoError(t, err)

			code, err := a.Code()
			require.ErrorIs(t, err, ErrInvalidBytecode)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Nil(t, code)

			_, err = a.DeployData()
			assert.ErrorIs(t, err, ErrInvalidBytecode)
		})
	}
}

func TestArtifact_DeployData(t *testing.T) {
	a, err := Parse("MockERC20", artifactJSON(`"0x6080"`))
	require.NoError(t, err)

	data, err := a.DeployData(big.NewInt(5))
	require.NoError(t, err)
	require.Len(t, data, 2+32)
	assert.Equal(t, []byte{0x60, 0x80}, data[:2])
	assert.Equal(t, byte(5), data[len(data)-1])

	_, err = a.DeployData("wrong type")
	assert.Error(t, err)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MockERC20.json"), artifactJSON(`"0x6080"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "POWToken.json"), artifactJSON(`{"object":"0x01"}`), 0o644))

	t.Run("all present", func(t *testing.T) {
		c, err := Load(dir, []string{"POWToken", "MockERC20", "POWToken"})
		require.NoError(t, err)
		assert.Equal(t, []string{"MockERC20", "POWToken"}, c.Names())
	})

	t.Run("missing names are collected", func(t *testing.T) {
		_, err := LoadDirectory(dir, []string{"MockERC20", "Query", "BTCParam"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrArtifactNotFound)
		assert.Contains(t, err.Error(), "BTCParam, Query")
	})
}

func TestLoadBundle(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)

	files := map[string][]byte{
		"build/MockERC20.json": artifactJSON(`"0x6080"`),
		"build/Query.json":     artifactJSON(`"0x6081"`),
		"README.md":            []byte("ignored"),
	}
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "artifacts.tar.zst")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	c, err := Load(path, []string{"MockERC20", "Query"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MockERC20", "Query"}, c.Names())

	_, err = LoadBundle(path, []string{"TokenTreasury"})
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

type memorySink struct {
	writes [][]byte
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Write(_ context.Context, data []byte) error {
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func TestExporter_Deterministic(t *testing.T) {
	catalog := NewCatalog("memory")
	for _, name := range []string{"MockERC20", "MockUniswapPair", "POWToken"} {
		a, err := Parse(name, artifactJSON(`"0x6080"`))
		require.NoError(t, err)
		catalog.Add(a)
	}

	path := filepath.Join(t.TempDir(), "build", "abis.json")
	mem := &memorySink{}
	exporter := NewExporter(catalog, map[string]string{
		"UniswapPair": "MockUniswapPair",
		"ERC20":       "MockERC20",
		"POWToken":    "POWToken",
	}, []Sink{FileSink{Path: path}, mem}, nil)

	first, err := exporter.Export(context.Background())
	require.NoError(t, err)
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)

	second, err := exporter.Export(context.Background())
	require.NoError(t, err)
	again, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, onDisk, again)
	assert.Equal(t, first, onDisk)
	require.Len(t, mem.writes, 2)
	assert.Equal(t, mem.writes[0], mem.writes[1])

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(first, &doc))
	assert.Len(t, doc, 3)

	erc := bytes.Index(first, []byte(`"ERC20"`))
	pow := bytes.Index(first, []byte(`"POWToken"`))
	pair := bytes.Index(first, []byte(`"UniswapPair"`))
	assert.True(t, erc < pow && pow < pair, "keys must be sorted")
}

func TestExporter_MissingArtifact(t *testing.T) {
	exporter := NewExporter(NewCatalog("memory"), map[string]string{"Query": "Query"}, nil, nil)
	_, err := exporter.Export(context.Background())
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestInterfaceArtifacts(t *testing.T) {
	got := InterfaceArtifacts(map[string]string{"ERC20": "MockERC20", "Token": "MockERC20", "Query": "Query"})
	assert.Equal(t, []string{"MockERC20", "Query"}, got)
}
