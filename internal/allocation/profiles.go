/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package allocation

import (
	"fmt"
	"os"
	"path/filepath"

	"tiltvault-clearing-go/internal/models"

	"gopkg.in/yaml.v2"
)

// Profile is a named preset defining the percentage allocation across
// strategies. Percentages always sum to 100 across the active strategies.
type Profile struct {
	Name        string         `yaml:"name"`
	Allocations map[string]int `yaml:"allocations"`
}

type profilesFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Active returns the strategies this profile allocates to, in execution order.
func (p Profile) Active() []models.StrategyKind {
	var active []models.StrategyKind
	for _, kind := range models.StrategyKinds {
		if p.Allocations[string(kind)] > 0 {
			active = append(active, kind)
		}
	}
	return active
}

// Percent returns the share allocated to a strategy.
func (p Profile) Percent(kind models.StrategyKind) int {
	return p.Allocations[string(kind)]
}

// Primary returns the strategy with the largest share, breaking ties by
// execution order. The flat gas fee is keyed off the primary strategy.
func (p Profile) Primary() models.StrategyKind {
	var primary models.StrategyKind
	best := -1
	for _, kind := range models.StrategyKinds {
		if pct := p.Allocations[string(kind)]; pct > best {
			primary = kind
			best = pct
		}
	}
	return primary
}

// VaultOnly reports whether the profile allocates exclusively to the vault.
// Vault-only deposits are executed on a venue funded by custodial gas, so no
// gas stipend is forwarded to the user.
func (p Profile) VaultOnly() bool {
	active := p.Active()
	return len(active) == 1 && active[0] == models.StrategyVaultDeposit
}

// LoadProfiles reads and validates the risk-profile presets file.
func LoadProfiles(profilesPath string) (map[string]Profile, error) {
	if !filepath.IsAbs(profilesPath) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		profilesPath = filepath.Join(wd, profilesPath)
	}

	data, err := os.ReadFile(profilesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", profilesPath, err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", profilesPath, err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("%s defines no profiles", profilesPath)
	}

	profiles := make(map[string]Profile, len(file.Profiles))
	for i, profile := range file.Profiles {
		if profile.Name == "" {
			return nil, fmt.Errorf("profile at index %d missing name", i)
		}
		total := 0
		for kind, pct := range profile.Allocations {
			if !validStrategy(kind) {
				return nil, fmt.Errorf("profile %q allocates to unknown strategy %q", profile.Name, kind)
			}
			if pct < 0 {
				return nil, fmt.Errorf("profile %q has negative allocation for %q", profile.Name, kind)
			}
			total += pct
		}
		if total != 100 {
			return nil, fmt.Errorf("profile %q allocations sum to %d, want 100", profile.Name, total)
		}
		if _, dup := profiles[profile.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", profile.Name)
		}
		profiles[profile.Name] = profile
	}

	return profiles, nil
}

func validStrategy(kind string) bool {
	for _, known := range models.StrategyKinds {
		if string(known) == kind {
			return true
		}
	}
	return false
}
