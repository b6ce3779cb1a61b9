package diagnosis

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// Rule maps message keywords to a diagnostic result. Rules are evaluated
// top-down, first match wins, with case-insensitive substring matching on
// the alert message.
type Rule struct {
	ID        string         `yaml:"id"`
	Keywords  []string       `yaml:"keywords"`
	Causes    []string       `yaml:"causes"`
	RootCause string         `yaml:"rootCause"`
	Resources map[string]int `yaml:"resources"`
}

// RulePackFile is the YAML root structure of a cause rule pack.
type RulePackFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads an ordered rule pack from path. A missing file falls back
// to the compiled-in defaults; a malformed file is an error.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRules(), nil
		}
		return nil, err
	}
	var pack RulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, err
	}
	if len(pack.Rules) == 0 {
		return DefaultRules(), nil
	}
	return pack.Rules, nil
}

// DefaultRules returns the built-in rule pack.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "temperature",
			Keywords: []string{"temperature", "cooling", "overheat"},
			Causes: []string{
				"Cooling system malfunction",
				"Airflow obstruction",
				"Thermal sensor failure",
				"HVAC system issues",
			},
			RootCause: "Temperature control system malfunction",
			Resources: map[string]int{
				"HVAC_technicians": 2,
				"Thermal_sensors":  1,
				"Cooling_fans":     2,
				"Thermal_paste":    1,
			},
		},
		{
			ID:       "humidity",
			Keywords: []string{"humidity", "moisture"},
			Causes: []string{
				"Humidity control system failure",
				"Water leakage",
				"Environmental conditions",
				"Sensor calibration issues",
			},
			RootCause: "Humidity regulation system issue",
			Resources: map[string]int{
				"Maintenance_technicians": 1,
				"Humidity_sensors":        1,
				"Dehumidifiers":           1,
				"Sealant_materials":       1,
			},
		},
		{
			ID:       "power",
			Keywords: []string{"power", "voltage", "ups"},
			Causes: []string{
				"Power supply instability",
				"Voltage fluctuations",
				"Circuit overload",
				"Backup power system issues",
			},
			RootCause: "Power supply instability",
			Resources: map[string]int{
				"Electricians":    2,
				"Voltage_meters":  1,
				"Power_supplies":  1,
				"Circuit_testers": 1,
			},
		},
		{
			ID:       "network",
			Keywords: []string{"network", "connectivity", "packet"},
			Causes: []string{
				"Network equipment failure",
				"Cable or connector damage",
				"Bandwidth saturation",
				"Configuration drift",
			},
			RootCause: "Network connectivity degradation",
			Resources: map[string]int{
				"Network_technicians": 1,
				"Replacement_cables":  2,
				"Network_switches":    1,
			},
		},
	}
}

// Fallback is the fixed generic diagnosis substituted whenever no rule
// matches or an upstream enrichment call fails. It is never empty.
func Fallback() models.Diagnosis {
	return models.Diagnosis{
		Causes: []string{
			"System performance degradation",
			"Regular maintenance required",
			"Component wear and tear",
		},
		RootCause: "System performance deviation from normal parameters",
		Resources: map[string]int{
			"maintenance_technician": 1,
			"diagnostic_tools":       1,
			"spare_parts":            1,
		},
	}
}

// match returns the first rule whose keyword appears in the message.
func match(rules []Rule, message string) (Rule, bool) {
	lower := strings.ToLower(message)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return rule, true
			}
		}
	}
	return Rule{}, false
}
