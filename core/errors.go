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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidFeed indicates a Feed failed validation.
	ErrInvalidFeed = errors.New("invalid feed")

	// ErrInvalidArticle indicates an Article failed validation.
	ErrInvalidArticle = errors.New("invalid article")

	// ErrInvalidFeedURL indicates a feed or article URL is not an absolute http(s) URL.
	ErrInvalidFeedURL = errors.New("invalid url")

	// ErrInvalidPriority indicates a SyncPriority outside high, medium, low.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidStatus indicates an unknown FeedStatus.
	ErrInvalidStatus = errors.New("invalid feed status")

	// ErrEmptyTenant indicates the Tenant field is empty.
	ErrEmptyTenant = errors.New("tenant cannot be empty")

	// ErrEmptyGUID indicates the article GUID is empty.
	ErrEmptyGUID = errors.New("guid cannot be empty")

	// ErrTitleTooShort indicates an article title below the minimum length.
	ErrTitleTooShort = errors.New("title too short")

	// ErrMissingFeed indicates an article without a parent feed.
	ErrMissingFeed = errors.New("feed id cannot be zero")
)
