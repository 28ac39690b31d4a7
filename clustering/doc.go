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


// Package clustering groups semantically related articles from different
// feeds into topic clusters.
//
// The pure functions (CosineSimilarity, FindSimilarArticles, FormClusters,
// CalculateRelevanceScore) hold the algorithm. Engine runs it for one
// tenant against storage: it gates on provider availability and the
// clusterings budget, supersedes the previous run's clusters and stamps
// cluster membership onto articles.
//
// Clusters expire ExpirationHours after formation. Expiry is logical:
// expired clusters drop out of listings but stay stored until a purge.
package clustering
