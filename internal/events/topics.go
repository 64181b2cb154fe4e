package events

// Topic constants for quote lifecycle events.
const (
	TopicQuoteCreated         = "quote.created"
	TopicQuoteItemAdded       = "quote.item_added"
	TopicQuoteItemUpdated     = "quote.item_updated"
	TopicQuoteItemRemoved     = "quote.item_removed"
	TopicQuoteDiscountApplied = "quote.discount_applied"
	TopicQuoteRecalculated    = "quote.recalculated"
	TopicQuoteApproved        = "quote.approved"
)

// DefaultTopics returns the canonical list of quote topics.
func DefaultTopics() []string {
	return []string{
		TopicQuoteCreated,
		TopicQuoteItemAdded,
		TopicQuoteItemUpdated,
		TopicQuoteItemRemoved,
		TopicQuoteDiscountApplied,
		TopicQuoteRecalculated,
		TopicQuoteApproved,
	}
}

// KnownTopic reports whether topic is one of DefaultTopics.
func KnownTopic(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
