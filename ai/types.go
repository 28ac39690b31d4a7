// Copyright 2025 Poiesic Systems
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


package ai

// ClusterSummary is the generated description of a cluster.
type ClusterSummary struct {
	Title   string
	Summary string
}

// ProviderInfo names the provider and models behind an AIProvider.
// Usage records and cost lookups are keyed on these values.
type ProviderInfo struct {
	Name           string
	EmbeddingModel string
	SummaryModel   string
}
