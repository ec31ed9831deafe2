package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Course is a named, ordered list of obstacles an operator can mark during
// a trial.
type Course struct {
	Name      string   `yaml:"name" json:"name"`
	Obstacles []string `yaml:"obstacles" json:"obstacles"`
}

// DefaultCourse is the applied obstacle course used when no course file is
// configured.
var DefaultCourse = Course{
	Name: "Traseu aplicativ",
	Obstacles: []string{
		"Săritura lungime",
		"Pas sărit",
		"Rostogoliri",
		"Bancă greutăți",
		"Șicane",
		"Săritură capră",
		"Obstacol marcat",
		"Escaladare ladă",
		"Manechin",
		"Aruncare minge",
		"Detentă verticală",
		"Navetă",
	},
}

func (c Course) Contains(label string) bool {
	label = strings.TrimSpace(label)
	for _, o := range c.Obstacles {
		if o == label {
			return true
		}
	}
	return false
}

func (c Course) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("course name is required")
	}
	if len(c.Obstacles) == 0 {
		return errors.New("course must list at least one obstacle")
	}
	seen := make(map[string]bool, len(c.Obstacles))
	for i, o := range c.Obstacles {
		o = strings.TrimSpace(o)
		if o == "" {
			return fmt.Errorf("obstacle %d has an empty label", i)
		}
		if seen[o] {
			return fmt.Errorf("obstacle %q listed twice", o)
		}
		seen[o] = true
	}
	return nil
}
