// Package merge implements the three CRDT-style merge strategies vigil
// uses to reconcile conflicting EntityVersions pulled from peers:
// LastWriterWins, MergeSightings, and Tombstone. Semantics are ported from
// _examples/original_source/src/sync/merge.rs.
package merge

import (
	"strconv"
	"strings"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// Strategy selects how two conflicting EntityVersions of the same entity
// type are reconciled.
type Strategy string

const (
	// LastWriterWins picks the version with the newer VersionVector;
	// a tombstone on either side wins outright.
	LastWriterWins Strategy = "last_writer_wins"
	// MergeSightings sums '*count*' fields, takes the min of
	// '*first*seen*'/'*first*timestamp*' fields, the max of other
	// '*seen*'/'*timestamp*' fields, and LWW for any named LWWFields.
	// Fields not named in MergeFields or LWWFields are taken from the
	// local side only — local preserves unknown fields, an intentionally
	// asymmetric behavior kept from the original (see DESIGN.md).
	MergeSightings Strategy = "merge_sightings"
	// Tombstone: a tombstone on exactly one side wins; if both sides are
	// tombstoned, the newer VersionVector wins; if neither, it falls back
	// to LastWriterWins.
	Tombstone Strategy = "tombstone"
)

// Rule configures how one entity type is merged.
type Rule struct {
	Strategy    Strategy
	MergeFields []string
	LWWFields   []string
}

// Config maps entity types to merge Rules, with a default strategy used
// for any entity type without an explicit rule.
type Config struct {
	Rules           map[string]Rule
	DefaultStrategy Strategy
}

// RuleFor returns the configured Rule for entityType, or a Rule using
// DefaultStrategy if none is configured.
func (c Config) RuleFor(entityType string) Rule {
	if r, ok := c.Rules[entityType]; ok {
		return r
	}
	strategy := c.DefaultStrategy
	if strategy == "" {
		strategy = LastWriterWins
	}
	return Rule{Strategy: strategy}
}

// Resolver reconciles conflicting EntityVersions according to a Config.
type Resolver struct {
	config Config
}

// NewResolver builds a Resolver bound to cfg.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{config: cfg}
}

// Merge reconciles local and remote, which must share an EntityType and
// Key, according to the configured Rule for that EntityType.
func (r *Resolver) Merge(local, remote graph.EntityVersion) (graph.EntityVersion, error) {
	if local.EntityType != remote.EntityType {
		return graph.EntityVersion{}, vigilerr.New(vigilerr.KindIncompatibleMerge,
			"cannot merge entities of different types: "+local.EntityType+" vs "+remote.EntityType)
	}
	if local.Key != remote.Key {
		return graph.EntityVersion{}, vigilerr.New(vigilerr.KindIncompatibleMerge,
			"cannot merge entities with different keys: "+local.Key+" vs "+remote.Key)
	}

	rule := r.config.RuleFor(local.EntityType)

	switch rule.Strategy {
	case MergeSightings:
		return mergeSightings(local, remote, rule), nil
	case Tombstone:
		return mergeTombstone(local, remote), nil
	default:
		return mergeLWW(local, remote), nil
	}
}

func mergeLWW(local, remote graph.EntityVersion) graph.EntityVersion {
	if remote.Tombstone {
		return remote
	}
	if local.Tombstone {
		return local
	}
	if remote.Version.NewerThan(local.Version) {
		return remote
	}
	return local
}

func mergeTombstone(local, remote graph.EntityVersion) graph.EntityVersion {
	if remote.Tombstone && !local.Tombstone {
		return remote
	}
	if local.Tombstone && !remote.Tombstone {
		return local
	}
	if remote.Tombstone && local.Tombstone {
		if remote.Version.NewerThan(local.Version) {
			return remote
		}
		return local
	}
	return mergeLWW(local, remote)
}

func mergeSightings(local, remote graph.EntityVersion, rule Rule) graph.EntityVersion {
	if remote.Tombstone || local.Tombstone {
		return mergeTombstone(local, remote)
	}

	merged := make(map[string]string, len(local.Props))
	for k, v := range local.Props {
		merged[k] = v
	}

	for _, field := range rule.MergeFields {
		lf := strings.ToLower(field)
		switch {
		case strings.Contains(lf, "count"):
			localCount, _ := strconv.ParseInt(merged[field], 10, 64)
			remoteCount, _ := strconv.ParseInt(remote.Props[field], 10, 64)
			merged[field] = strconv.FormatInt(localCount+remoteCount, 10)

		case strings.Contains(lf, "seen") || strings.Contains(lf, "timestamp"):
			remoteVal, remoteHas := remote.Props[field]
			if !remoteHas {
				continue
			}
			localVal, localHas := merged[field]
			if !localHas {
				merged[field] = remoteVal
				continue
			}
			localTS, localErr := strconv.ParseInt(localVal, 10, 64)
			remoteTS, remoteErr := strconv.ParseInt(remoteVal, 10, 64)
			if localErr != nil || remoteErr != nil {
				continue
			}
			if strings.Contains(lf, "first") {
				if remoteTS < localTS {
					merged[field] = remoteVal
				}
			} else if remoteTS > localTS {
				merged[field] = remoteVal
			}
		}
	}

	if remote.Version.NewerThan(local.Version) {
		for _, field := range rule.LWWFields {
			if v, ok := remote.Props[field]; ok {
				merged[field] = v
			}
		}
	}

	version := local.Version
	if remote.Version.NewerThan(local.Version) {
		version = remote.Version
	}

	return graph.EntityVersion{
		EntityType: local.EntityType,
		Key:        local.Key,
		Props:      merged,
		Version:    version,
		Tombstone:  false,
	}
}
