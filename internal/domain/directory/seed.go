package directory

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Writer stores patient rows. Both backends implement it.
type Writer interface {
	AddPatient(ctx context.Context, p *Patient) error
}

// Fixture is the YAML document accepted by the seed command:
//
//	patients:
//	  - first_name: Jane
//	    last_name: Doe
//	    phone: "555-0100"
type Fixture struct {
	Patients []Patient `yaml:"patients"`
}

// LoadFixture decodes and checks a seed file.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	for i, p := range f.Patients {
		if p.FirstName == "" {
			return nil, fmt.Errorf("patient %d: first_name is required", i+1)
		}
	}
	return &f, nil
}

// Seed writes every fixture patient. Records are stamped one millisecond
// apart so generated patient codes and search order stay distinct.
func Seed(ctx context.Context, w Writer, f *Fixture) (int, error) {
	base := time.Now().UTC()
	for i := range f.Patients {
		p := &f.Patients[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		}
		if err := w.AddPatient(ctx, p); err != nil {
			return i, err
		}
	}
	return len(f.Patients), nil
}
