// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"github.com/stromhub/strom/internal/client"
	"github.com/stromhub/strom/internal/config"
)

// LoadClientConfig loads the CLI's stromd target from --config, with
// --server/--token flags (or the STROM_SERVER_ADDR/STROM_TOKEN env vars,
// applied inside config.LoadClientConfig) taking precedence.
func LoadClientConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if v := GetServerOverride(); v != "" {
		cfg.ServerAddr = v
	}
	if v := GetTokenOverride(); v != "" {
		cfg.Token = v
	}
	return cfg, nil
}

// NewClient builds a stromd client from cfg.
func NewClient(cfg *config.ClientConfig) *client.Client {
	return client.New(cfg.ServerAddr, cfg.Token, nil)
}
