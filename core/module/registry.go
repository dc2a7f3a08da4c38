package module

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the snake case identifier of a module variant, as stored in the database.
type Kind string

// Module kinds
const (
	FearConditioning        Kind = "fear_conditioning"
	BasicInfo               Kind = "basic_info"
	Criterion               Kind = "criterion"
	BreakStart              Kind = "break_start"
	BreakEnd                Kind = "break_end"
	Instructions            Kind = "instructions"
	AffectiveRating         Kind = "affective_rating"
	ContingencyAwareness    Kind = "contingency_awareness"
	PostExperimentQuestions Kind = "post_experiment_questions"
	USUnpleasantness        Kind = "us_unpleasantness"
	Text                    Kind = "text"
	Web                     Kind = "web"
	TaskInstructions        Kind = "task_instructions"
)

func (k Kind) Tag() string   { return strings.ToUpper(string(k)) }
func (k Kind) Slug() string  { return strings.ReplaceAll(string(k), "_", "-") }
func (k Kind) Title() string { return capitalize(strings.ReplaceAll(string(k), "_", " ")) }

var ErrNameCollision = errors.New("module type name collision")

// Definition describes a module variant to register.
type Definition struct {
	Camel       string // type name, FearConditioning
	NewSettings func() Settings
	// Internal kinds get no create route: they only exist alongside another module.
	Internal bool
}

// Builtins lists the module variants of the portal, in the order they are offered to researchers.
var Builtins = []Definition{
	{Camel: "FearConditioning", NewSettings: newFearConditioningSettings},
	{Camel: "BasicInfo", NewSettings: newBasicInfoSettings},
	{Camel: "Criterion", NewSettings: newCriterionSettings},
	{Camel: "BreakStart", NewSettings: newBreakStartSettings},
	{Camel: "BreakEnd", NewSettings: newBreakEndSettings, Internal: true},
	{Camel: "Instructions", NewSettings: newInstructionsSettings},
	{Camel: "AffectiveRating", NewSettings: newAffectiveRatingSettings},
	{Camel: "ContingencyAwareness", NewSettings: newContingencyAwarenessSettings},
	{Camel: "PostExperimentQuestions", NewSettings: newPostExperimentQuestionsSettings},
	{Camel: "USUnpleasantness", NewSettings: newUSUnpleasantnessSettings},
	{Camel: "Text", NewSettings: newTextSettings},
	{Camel: "Web", NewSettings: newWebSettings},
	{Camel: "TaskInstructions", NewSettings: newTaskInstructionsSettings},
}

// Entry is a registered module variant along with its routing bindings.
type Entry struct {
	Kind      Kind
	Names     Names
	Creatable bool

	CreatePath      string
	CreateRouteName string
	UpdatePath      string
	UpdateRouteName string
	DeletePath      string
	DeleteRouteName string

	newSettings func() Settings
}

// NewSettings returns the default settings of the kind.
func (e Entry) NewSettings() Settings {
	return e.newSettings()
}

// DecodeSettings decodes raw over the default settings of the kind.
func (e Entry) DecodeSettings(raw []byte) (Settings, error) {
	s := e.newSettings()
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, errors.Wrapf(err, "decoding %s settings", e.Kind)
	}
	return s, nil
}

// Registry maps module kinds to their entries. It is built at startup and passed down;
// Register is not safe for concurrent use.
type Registry struct {
	entries []Entry
	byKind  map[Kind]int
	bySlug  map[string]int
	byTag   map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[Kind]int),
		bySlug: make(map[string]int),
		byTag:  make(map[string]int),
	}
}

// NewDefaultRegistry returns a registry holding the Builtins.
func NewDefaultRegistry() *Registry {
	reg := NewRegistry()
	for _, def := range Builtins {
		reg.MustRegister(def)
	}
	return reg
}

// Register adds a module variant. Registering the same type twice is a no-op;
// a type whose slug or tag is already used by another type returns ErrNameCollision.
func (r *Registry) Register(def Definition) error {
	if def.NewSettings == nil {
		return errors.Errorf("registering %s: no settings factory", def.Camel)
	}

	names := DeriveNames(def.Camel)
	if idx, ok := r.bySlug[names.Slug]; ok {
		if other := r.entries[idx]; other.Names.Camel != def.Camel {
			return errors.Wrapf(ErrNameCollision, "%s: slug %q is used by %s", def.Camel, names.Slug, other.Names.Camel)
		}
		return nil
	}
	if idx, ok := r.byTag[names.Tag]; ok {
		return errors.Wrapf(ErrNameCollision, "%s: tag %q is used by %s", def.Camel, names.Tag, r.entries[idx].Names.Camel)
	}
	if idx, ok := r.byKind[Kind(names.Snake)]; ok {
		return errors.Wrapf(ErrNameCollision, "%s: kind %q is used by %s", def.Camel, names.Snake, r.entries[idx].Names.Camel)
	}

	base := "/projects/:project_id/experiments/:experiment_id/modules/" + names.Slug
	entry := Entry{
		Kind:            Kind(names.Snake),
		Names:           names,
		Creatable:       !def.Internal,
		UpdatePath:      base + "/:module_id",
		UpdateRouteName: names.Snake + "_update",
		DeletePath:      base + "/:module_id",
		DeleteRouteName: names.Snake + "_delete",
		newSettings:     def.NewSettings,
	}
	if entry.Creatable {
		entry.CreatePath = base
		entry.CreateRouteName = names.Snake + "_create"
	}

	idx := len(r.entries)
	r.entries = append(r.entries, entry)
	r.byKind[entry.Kind] = idx
	r.bySlug[names.Slug] = idx
	r.byTag[names.Tag] = idx
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(fmt.Sprintf("module.Registry: %v", err))
	}
}

// Lookup finds an entry by slug, tag or kind.
func (r *Registry) Lookup(key string) (Entry, bool) {
	for _, index := range []map[string]int{r.bySlug, r.byTag} {
		if idx, ok := index[key]; ok {
			return r.entries[idx], true
		}
	}
	return r.Get(Kind(key))
}

func (r *Registry) Get(kind Kind) (Entry, bool) {
	idx, ok := r.byKind[kind]
	if !ok {
		return Entry{}, false
	}
	return r.entries[idx], true
}

// Entries returns the registered entries in registration order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
