package clustering

import (
	"slices"

	"github.com/poiesic/feedsync/core"
)

const (
	// MinClusterArticles is the fewest members a cluster may have.
	MinClusterArticles = 2
	// MinClusterSources is the fewest distinct feeds a cluster may draw from.
	MinClusterSources = 2
	// ExpirationHours is how long a cluster stays active after formation.
	ExpirationHours = 48
	// DefaultThreshold is the similarity needed to join a cluster.
	DefaultThreshold = 0.75
)

// Group is a cluster candidate that passed the size and source checks.
// Articles[0] is the seed; the rest follow in descending similarity to it.
type Group struct {
	Articles      []*core.Article
	FeedIDs       []core.ID // distinct, in first-seen order
	AvgSimilarity float64   // mean pairwise similarity of the members
}

// RelevanceScore ranks the group.
func (g *Group) RelevanceScore() int {
	return CalculateRelevanceScore(len(g.Articles), len(g.FeedIDs))
}

// ArticleIDs returns the member ids in group order.
func (g *Group) ArticleIDs() []core.ID {
	ids := make([]core.ID, len(g.Articles))
	for i, a := range g.Articles {
		ids[i] = a.Id
	}
	return ids
}

// CalculateRelevanceScore is articleCount times sourceCount, or zero when
// either is not positive.
func CalculateRelevanceScore(articleCount, sourceCount int) int {
	if articleCount <= 0 || sourceCount <= 0 {
		return 0
	}
	return articleCount * sourceCount
}

// FormClusters groups articles in one greedy pass. Each unassigned article
// in input order seeds a candidate made of every other unassigned article
// whose similarity to the seed is at least threshold. A candidate becomes
// a Group only with MinClusterArticles members from MinClusterSources
// feeds; otherwise its members stay available to later seeds. An article
// joins at most one Group. Articles without embeddings are ignored.
func FormClusters(articles []*core.Article, threshold float64) []*Group {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var pool []*core.Article
	for _, a := range articles {
		if a != nil && len(a.Embedding) > 0 {
			pool = append(pool, a)
		}
	}

	assigned := make(map[core.ID]bool, len(pool))
	var groups []*Group
	for i, seed := range pool {
		if assigned[seed.Id] {
			continue
		}

		type member struct {
			article *core.Article
			score   float64
		}
		var members []member
		for _, other := range pool[i+1:] {
			if assigned[other.Id] || other.Id == seed.Id {
				continue
			}
			score, err := CosineSimilarity(seed.Embedding, other.Embedding)
			if err != nil || score < threshold {
				continue
			}
			members = append(members, member{other, score})
		}
		slices.SortStableFunc(members, func(a, b member) int {
			switch {
			case a.score > b.score:
				return -1
			case a.score < b.score:
				return 1
			}
			return 0
		})

		group := &Group{Articles: []*core.Article{seed}}
		for _, m := range members {
			group.Articles = append(group.Articles, m.article)
		}
		group.FeedIDs = distinctFeeds(group.Articles)
		if len(group.Articles) < MinClusterArticles || len(group.FeedIDs) < MinClusterSources {
			continue
		}

		group.AvgSimilarity = averagePairwise(group.Articles)
		for _, a := range group.Articles {
			assigned[a.Id] = true
		}
		groups = append(groups, group)
	}
	return groups
}

func distinctFeeds(articles []*core.Article) []core.ID {
	var feeds []core.ID
	for _, a := range articles {
		if !slices.Contains(feeds, a.FeedId) {
			feeds = append(feeds, a.FeedId)
		}
	}
	return feeds
}

func averagePairwise(articles []*core.Article) float64 {
	var sum float64
	var pairs int
	for i := range articles {
		for j := i + 1; j < len(articles); j++ {
			score, err := CosineSimilarity(articles[i].Embedding, articles[j].Embedding)
			if err != nil {
				continue
			}
			sum += score
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}
