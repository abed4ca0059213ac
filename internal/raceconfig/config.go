// Package raceconfig decodes and validates the hierarchical
// configuration of spec.md §6: the top-level key table plus the
// scheduler and ingest sub-trees introduced by the expansion. It
// follows internal/config/config.go's load-then-validate-then-decode
// shape and pkg/metricstore/configSchema.go's embedded JSON-Schema
// string validated with santhosh-tekuri/jsonschema/v5 before decode.
package raceconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/race-platform/race-core/pkg/nats"
)

// WebAuthnConfig is spec.md §6's WebAuthn relying-party and policy
// keys, consumed by internal/credstore.
type WebAuthnConfig struct {
	RPID                   string `json:"rp-id"`
	RPName                 string `json:"rp-name"`
	RPOrigins              []string `json:"rp-origins"`
	AuthenticatorAttachment string `json:"authenticator-attachment"`
	UserVerification       string `json:"user-verification"`
	ResidentKey            bool   `json:"resident-key"`
}

// SchedulerConfig is the expansion's "scheduler" sub-tree: whether an
// async EventScheduler worker parks on an empty queue instead of
// exiting, and the cadence of cmd/racecored's checkpoint/constraint
// services.
type SchedulerConfig struct {
	CheckpointInterval string `json:"checkpoint-interval"`
	ConstraintInterval string `json:"constraint-sweep-interval"`
	KeepAlive          bool   `json:"keep-alive"`
}

// IngestConfig is the expansion's "ingest" sub-tree: the optional NATS
// transport alongside the UDP wire protocol. NATS holds the
// connection parameters handed straight to pkg/nats.NewClient; without
// an "address" the ingestion adapter is left disabled, matching
// cmd/racecored's own "NATS unavailable, ingestion disabled" fallback.
type IngestConfig struct {
	Subjects []string        `json:"subjects"`
	Workers  int             `json:"workers"`
	NATS     nats.NatsConfig `json:"nats"`
}

// RaceConfig is the decoded form of spec.md §6's top-level
// configuration tree.
type RaceConfig struct {
	Name             string          `json:"name"`
	NodeID           string          `json:"node-id"`
	ColumnListPath   string          `json:"column-list"`
	RowListPath      string          `json:"row-list"`
	FormulaListPath  string          `json:"formula-list"`
	ColumnDataPath   string          `json:"column-data"`
	ConstraintListPath string        `json:"constraint-list"`
	BufferSize       int             `json:"buffer-size"`
	TimeoutMs        int             `json:"timeout"`
	UserCredentials  string          `json:"user-credentials"`
	WebAuthn         WebAuthnConfig  `json:"-"`
	Scheduler        SchedulerConfig `json:"scheduler"`
	Ingest           IngestConfig    `json:"ingest"`
}

// raceConfigJSON mirrors RaceConfig's on-disk shape exactly, with the
// WebAuthn keys inlined at the top level per spec.md §6 rather than
// nested, then reassembled into WebAuthnConfig after decode.
type raceConfigJSON struct {
	Name                    string          `json:"name"`
	NodeID                  string          `json:"node-id"`
	ColumnListPath          string          `json:"column-list"`
	RowListPath             string          `json:"row-list"`
	FormulaListPath         string          `json:"formula-list"`
	ColumnDataPath          string          `json:"column-data"`
	ConstraintListPath      string          `json:"constraint-list"`
	BufferSize              int             `json:"buffer-size"`
	TimeoutMs               int             `json:"timeout"`
	UserCredentials         string          `json:"user-credentials"`
	RPID                    string          `json:"rp-id"`
	RPName                  string          `json:"rp-name"`
	RPOrigins               []string        `json:"rp-origins"`
	AuthenticatorAttachment string          `json:"authenticator-attachment"`
	UserVerification        string          `json:"user-verification"`
	ResidentKey             bool            `json:"resident-key"`
	Scheduler               SchedulerConfig `json:"scheduler"`
	Ingest                  IngestConfig    `json:"ingest"`
}

// schema is the embedded JSON Schema validated against every
// configuration file before decode, following
// pkg/metricstore/configSchema.go's `var configSchema = ...` pattern.
const schema = `{
  "type": "object",
  "description": "RACE core node configuration.",
  "properties": {
    "name": {"type": "string"},
    "node-id": {"type": "string"},
    "column-list": {"type": "string"},
    "row-list": {"type": "string"},
    "formula-list": {"type": "string"},
    "column-data": {"type": "string"},
    "constraint-list": {"type": "string"},
    "buffer-size": {"type": "integer", "minimum": 1},
    "timeout": {"type": "integer", "minimum": 0},
    "user-credentials": {"type": "string"},
    "rp-id": {"type": "string"},
    "rp-name": {"type": "string"},
    "rp-origins": {"type": "array", "items": {"type": "string"}},
    "authenticator-attachment": {"type": "string", "enum": ["cross", "platform", "any"]},
    "user-verification": {"type": "string", "enum": ["preferred", "required", "discouraged", "any"]},
    "resident-key": {"type": "boolean"},
    "scheduler": {
      "type": "object",
      "properties": {
        "checkpoint-interval": {"type": "string"},
        "constraint-sweep-interval": {"type": "string"},
        "keep-alive": {"type": "boolean"}
      }
    },
    "ingest": {
      "type": "object",
      "properties": {
        "subjects": {"type": "array", "items": {"type": "string"}},
        "workers": {"type": "integer", "minimum": 1},
        "nats": {
          "type": "object",
          "properties": {
            "address": {"type": "string"},
            "username": {"type": "string"},
            "password": {"type": "string"},
            "creds-file-path": {"type": "string"}
          }
        }
      }
    }
  },
  "required": ["node-id", "column-list", "row-list"]
}`

// Validate checks raw against the embedded schema, matching
// internal/config.Validate's compile-then-validate shape.
func Validate(raw json.RawMessage) error {
	sch, err := jsonschema.CompileString("raceconfig.json", schema)
	if err != nil {
		return fmt.Errorf("raceconfig: compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("raceconfig: unmarshal: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("raceconfig: validate: %w", err)
	}
	return nil
}

// Load reads, validates, and decodes a configuration file at path,
// rejecting unknown top-level fields exactly as internal/config.Init
// does with json.Decoder.DisallowUnknownFields.
func Load(path string) (*RaceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("raceconfig: read %s: %w", path, err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var doc raceConfigJSON
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("raceconfig: decode %s: %w", path, err)
	}
	cfg := &RaceConfig{
		Name:            doc.Name,
		NodeID:          doc.NodeID,
		ColumnListPath:  doc.ColumnListPath,
		RowListPath:     doc.RowListPath,
		FormulaListPath: doc.FormulaListPath,
		ColumnDataPath:  doc.ColumnDataPath,
		ConstraintListPath: doc.ConstraintListPath,
		BufferSize:      doc.BufferSize,
		TimeoutMs:       doc.TimeoutMs,
		UserCredentials: doc.UserCredentials,
		WebAuthn: WebAuthnConfig{
			RPID:                    doc.RPID,
			RPName:                  doc.RPName,
			RPOrigins:               doc.RPOrigins,
			AuthenticatorAttachment: doc.AuthenticatorAttachment,
			UserVerification:        doc.UserVerification,
			ResidentKey:             doc.ResidentKey,
		},
		Scheduler: doc.Scheduler,
		Ingest:    doc.Ingest,
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 4096
	}
	cclog.Infof("raceconfig: loaded %q for node %q", cfg.Name, cfg.NodeID)
	return cfg, nil
}
