package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jnode/jnode-sub032/internal/cpuid"
	"github.com/jnode/jnode-sub032/internal/jumptable"
	"github.com/jnode/jnode-sub032/internal/layout"
	"github.com/jnode/jnode-sub032/internal/rtabi"
)

// Configuration keys. Every key can be set by flag, by a JNODEC_ variable
// or in the config file.
const (
	keyConfig        = "config"
	keyJumpTableBase = "jumptable-base"
	keyIMTLength     = "imt-length"
	keyWriteBarrier  = "write-barrier"
	keyDebug         = "debug"
	keyFormat        = "format"
	keyNoColor       = "no-color"
	keyLogLevel      = "log-level"
	keyOffsets       = "offsets"
	keySymbols       = "symbols"
)

func addGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String(keyConfig, "", "YAML config file")
	f.Uint32(keyJumpTableBase, 0, "address of the resident jump table; 0 compiles for the boot image")
	f.Int(keyIMTLength, rtabi.IMTLength, "number of IMT hash slots")
	f.Bool(keyWriteBarrier, false, "call the write barrier on reference stores")
	f.Bool(keyDebug, false, "emit debug assertions")
	f.String(keyFormat, "text", "output format (text or json)")
	f.Bool(keyNoColor, false, "disable colored output")
	f.String(keyLogLevel, "warn", "log level")
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("JNODEC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// settings is the resolved configuration of one invocation.
type settings struct {
	layout    layout.Config
	imtLength int
	jumpTable jumptable.Handle
	features  cpuid.Features
	debug     bool
	format    string
	log       zerolog.Logger
	out       *palette
}

func loadSettings(cmd *cobra.Command) (*settings, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}
	s := &settings{
		layout:    layout.DefaultConfig(),
		imtLength: v.GetInt(keyIMTLength),
		features:  cpuid.Host(),
		debug:     v.GetBool(keyDebug),
		format:    strings.ToLower(v.GetString(keyFormat)),
		out:       newPalette(v.GetBool(keyNoColor)),
	}
	s.layout.WriteBarrier = v.GetBool(keyWriteBarrier)
	if err := v.UnmarshalKey(keyOffsets, &s.layout.Offsets); err != nil {
		return nil, fmt.Errorf("config %s: %w", keyOffsets, err)
	}
	if s.imtLength <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", keyIMTLength, s.imtLength)
	}
	switch s.format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("unknown output format: %s", s.format)
	}

	level, err := zerolog.ParseLevel(v.GetString(keyLogLevel))
	if err != nil {
		return nil, err
	}
	s.log = newLogger(cmd.ErrOrStderr(), level, s.out.noColor)

	s.jumpTable, err = jumpTableHandle(v)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newLogger(w io.Writer, level zerolog.Level, noColor bool) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: zerolog.SyncWriter(w), NoColor: noColor}).
		Level(level).
		With().Timestamp().Logger()
}

// jumpTableHandle selects the boot image jump table, or the resident one
// when a base address is configured. The resident table is linked from
// the addresses of its target symbols.
func jumpTableHandle(v *viper.Viper) (jumptable.Handle, error) {
	base := v.GetUint32(keyJumpTableBase)
	if base == 0 {
		return jumptable.NewHandle(jumptable.Bootstrap{Symbol: rtabi.SymJumpTable}), nil
	}
	var symbols map[string]uint32
	if err := v.UnmarshalKey(keySymbols, &symbols); err != nil {
		return jumptable.Handle{}, fmt.Errorf("config %s: %w", keySymbols, err)
	}
	table, err := jumptable.Image().Link(base, func(sym string) (uint32, bool) {
		addr, ok := symbols[sym]
		return addr, ok
	})
	if err != nil {
		return jumptable.Handle{}, fmt.Errorf("resident jump table: %w", err)
	}
	return jumptable.NewHandle(jumptable.Resident{Base: base, Memory: jumptable.Load(base, table)}), nil
}
