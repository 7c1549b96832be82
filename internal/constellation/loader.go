package constellation

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/orbitalworks/orrery/pkg/models"
)

// seedFile is the YAML shape of a constellation description.
type seedFile struct {
	Constellation string     `yaml:"constellation"`
	Tasks         []seedTask `yaml:"tasks"`
}

type seedTask struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Worker      string            `yaml:"worker"`
	Metadata    map[string]string `yaml:"metadata"`
	DependsOn   []seedDependency  `yaml:"depends_on"`
}

// seedDependency accepts either a bare task ID or a mapping with explicit
// type and condition:
//
//	depends_on: [fetch]
//	depends_on:
//	  - task: build
//	    type: completion
type seedDependency struct {
	Task      string `yaml:"task"`
	Type      string `yaml:"type"`
	Condition string `yaml:"condition"`
}

// UnmarshalYAML handles the scalar shorthand form.
func (d *seedDependency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d.Task = value.Value
		return nil
	}
	type plain seedDependency
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*d = seedDependency(p)
	return nil
}

// Load reads a YAML constellation description from disk.
func Load(path string) (*Constellation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a validated constellation from YAML bytes. Errors from the
// graph mutators pass through so seeding and runtime editing share one
// taxonomy.
func Parse(data []byte) (*Constellation, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	c := New(seed.Constellation)
	for _, st := range seed.Tasks {
		if st.ID == "" {
			return nil, fmt.Errorf("%w: seed task without an ID", ErrInvalidEdit)
		}
		name := st.Name
		if name == "" {
			name = st.ID
		}
		task := models.TaskStar{
			ID:          st.ID,
			Name:        name,
			Description: st.Description,
			WorkerID:    st.Worker,
			Metadata:    st.Metadata,
		}
		if err := c.AddTask(task); err != nil {
			return nil, err
		}
	}
	for _, st := range seed.Tasks {
		for _, dep := range st.DependsOn {
			if dep.Task == "" {
				return nil, fmt.Errorf("%w: task %s has a dependency without a source", ErrInvalidEdit, st.ID)
			}
			depType := models.DependencyType(dep.Type)
			if dep.Type == "" {
				depType = models.DependencySuccess
			}
			edge := models.DependencyEdge{
				ID:        fmt.Sprintf("dep-%s-%s", dep.Task, st.ID),
				From:      dep.Task,
				To:        st.ID,
				Type:      depType,
				Condition: dep.Condition,
			}
			if err := c.AddDependency(edge); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}
