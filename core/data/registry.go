package data

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core/module"
)

// Definition describes the data collected by a module kind.
type Definition struct {
	// Name replaces the module's CamelCase name in the data's names and paths, when the data
	// is a sub step of the module rather than the module's own result.
	Name       string
	ModuleKind module.Kind
	NewPayload func() Payload
	// UniqueFields name the fields of the row's uniqueness key, as reported to the client.
	UniqueFields []string
}

// Builtins lists the data collected by the portal's module kinds.
var Builtins = []Definition{
	{
		ModuleKind:   module.FearConditioning,
		NewPayload:   func() Payload { return new(FearConditioningPayload) },
		UniqueFields: []string{"trial", "module", "participant"},
	},
	{
		ModuleKind:   module.BasicInfo,
		NewPayload:   func() Payload { return new(BasicInfoPayload) },
		UniqueFields: []string{"module", "participant"},
	},
	{
		ModuleKind:   module.Criterion,
		NewPayload:   func() Payload { return new(CriterionPayload) },
		UniqueFields: []string{"question", "participant"},
	},
	{
		ModuleKind:   module.AffectiveRating,
		NewPayload:   func() Payload { return new(AffectiveRatingPayload) },
		UniqueFields: []string{"stimulus", "module", "participant"},
	},
	{
		ModuleKind:   module.ContingencyAwareness,
		NewPayload:   func() Payload { return new(ContingencyAwarenessPayload) },
		UniqueFields: []string{"module", "participant"},
	},
	{
		ModuleKind:   module.PostExperimentQuestions,
		NewPayload:   func() Payload { return new(PostExperimentQuestionsPayload) },
		UniqueFields: []string{"module", "participant"},
	},
	{
		ModuleKind:   module.USUnpleasantness,
		NewPayload:   func() Payload { return new(USUnpleasantnessPayload) },
		UniqueFields: []string{"module", "participant"},
	},
	{
		Name:         "VolumeCalibration",
		ModuleKind:   module.Instructions,
		NewPayload:   func() Payload { return new(VolumeCalibrationPayload) },
		UniqueFields: []string{"module", "participant"},
	},
}

// Entry is a registered data kind along with its routing bindings.
type Entry struct {
	ModuleKind   module.Kind
	Names        module.Names // derived from `{Name}Data`
	ModuleNames  module.Names // derived from Name, the module's names by default
	UniqueFields []string

	// SubmitPath is the participant API route, relative to /api/v1.
	SubmitPath      string
	SubmitRouteName string
	// ListPath and DetailPath are the researcher routes, relative to /v1.
	ListPath        string
	ListRouteName   string
	DetailPath      string
	DetailRouteName string

	newPayload func() Payload
}

func (e Entry) NewPayload() Payload {
	return e.newPayload()
}

func (e Entry) DecodePayload(raw []byte) (Payload, error) {
	p := e.newPayload()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, errors.Wrapf(err, "decoding %s payload", e.ModuleKind)
	}
	return p, nil
}

// UniqueText is the message reported when a submission breaks the uniqueness key.
func (e Entry) UniqueText() string {
	return fmt.Sprintf("The fields %s must make a unique set.", strings.Join(e.UniqueFields, ", "))
}

// Registry maps module kinds to the data they collect. It is built at startup from a module.Registry.
type Registry struct {
	modules *module.Registry
	entries []Entry
	byKind  map[module.Kind]int
	bySlug  map[string]int
}

func NewRegistry(modules *module.Registry) *Registry {
	return &Registry{
		modules: modules,
		byKind:  make(map[module.Kind]int),
		bySlug:  make(map[string]int),
	}
}

// NewDefaultRegistry returns a registry holding the Builtins.
func NewDefaultRegistry(modules *module.Registry) *Registry {
	reg := NewRegistry(modules)
	for _, def := range Builtins {
		reg.MustRegister(def)
	}
	return reg
}

// Register adds a data kind for a registered module kind. Registering a module kind twice is a no-op.
func (r *Registry) Register(def Definition) error {
	modEntry, ok := r.modules.Get(def.ModuleKind)
	if !ok {
		return errors.Errorf("registering data: unknown module kind %q", def.ModuleKind)
	}
	if def.NewPayload == nil {
		return errors.Errorf("registering %s data: no payload factory", def.ModuleKind)
	}
	if _, ok = r.byKind[def.ModuleKind]; ok {
		return nil
	}

	modNames := modEntry.Names
	if def.Name != "" {
		modNames = module.DeriveNames(def.Name)
	}
	names := module.DeriveNames(modNames.Camel + "Data")
	if idx, ok := r.bySlug[names.Slug]; ok {
		return errors.Wrapf(module.ErrNameCollision, "%s: slug %q is used by %s", names.Camel, names.Slug, r.entries[idx].Names.Camel)
	}

	base := "/projects/:project_id/experiments/:experiment_id/data/" + modNames.Slug
	entry := Entry{
		ModuleKind:      def.ModuleKind,
		Names:           names,
		ModuleNames:     modNames,
		UniqueFields:    def.UniqueFields,
		SubmitPath:      "/" + names.Slug,
		SubmitRouteName: names.Snake,
		ListPath:        base,
		ListRouteName:   names.Snake + "_list",
		DetailPath:      base + "/:data_id",
		DetailRouteName: names.Snake + "_detail",
		newPayload:      def.NewPayload,
	}

	idx := len(r.entries)
	r.entries = append(r.entries, entry)
	r.byKind[def.ModuleKind] = idx
	r.bySlug[names.Slug] = idx
	return nil
}

func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(fmt.Sprintf("data.Registry: %v", err))
	}
}

func (r *Registry) Get(kind module.Kind) (Entry, bool) {
	idx, ok := r.byKind[kind]
	if !ok {
		return Entry{}, false
	}
	return r.entries[idx], true
}

// Lookup finds an entry by its slug (`fear-conditioning-data`) or its path segment (`fear-conditioning`).
func (r *Registry) Lookup(slug string) (Entry, bool) {
	if idx, ok := r.bySlug[slug]; ok {
		return r.entries[idx], true
	}
	for _, entry := range r.entries {
		if entry.ModuleNames.Slug == slug {
			return entry, true
		}
	}
	return Entry{}, false
}

// Entries returns the registered entries in registration order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
