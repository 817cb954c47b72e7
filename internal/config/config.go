package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// CompilerConfig holds the inputs of one compile run.
type CompilerConfig struct {
	CWLDirsFile     string // Line pairs "namespace dir" listing tool directories
	YMLDirsFile     string // Line pairs "namespace dir" listing workflow directories
	RulesFile       string // Type compatibility rules
	ConventionsFile string // Name normalization conventions
	OutDir          string // Output directory for generated documents (default "autogenerated")
	SchemaDir       string // Output directory for generated schemas (default "autogenerated/schemas")

	InlineSubworkflows bool // Flatten eligible subworkflows before compiling
	InlineCWL          bool // Flatten eligible subworkflows in the compiled documents
	Pack               bool // Also write a packed $graph document
	WriteTrees         bool // Dump raw, merged and inlined trees

	Parallelism int // Concurrent sibling compilations (default GOMAXPROCS)
	CacheSize   int // Compiled subtree memo entries (default 256)
}

// DefaultCompilerConfig returns the compiler defaults.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		CWLDirsFile:     "cwl_dirs.txt",
		YMLDirsFile:     "yml_dirs.txt",
		RulesFile:       "inference_rules.txt",
		ConventionsFile: "renaming_conventions.txt",
		OutDir:          "autogenerated",
		SchemaDir:       filepath.Join("autogenerated", "schemas"),
		Parallelism:     runtime.GOMAXPROCS(0),
		CacheSize:       256,
	}
}

// ServerConfig holds configuration for the compile service.
type ServerConfig struct {
	Addr     string // Listen address (default ":8090")
	DBPath   string // SQLite database path (default ~/.wic/wic.db, ":memory:" for testing)
	Compiler CompilerConfig
}

// DefaultServerConfig returns the service defaults, honoring WIC_SERVER_ADDR
// and WIC_DB when set.
func DefaultServerConfig() ServerConfig {
	cfg := ServerConfig{
		Addr:     ":8090",
		Compiler: DefaultCompilerConfig(),
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.DBPath = filepath.Join(home, ".wic", "wic.db")
	}
	if v := os.Getenv("WIC_SERVER_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("WIC_DB"); v != "" {
		cfg.DBPath = v
	}
	return cfg
}
