package driver

// Canonical events are (:CanonicalEvent) nodes; the master pointer is the master_event_id
// property. Label maps are stored as JSON strings. Mentions are (:Mention) nodes keyed by
// (event_id, mention_date) with dates as "2006-01-02".
const (
	eventProjection = `
		e.id AS id,
		e.canonical_name AS canonical_name,
		e.alternative_names AS alternative_names,
		e.initiating_country AS initiating_country,
		e.master_event_id AS master_event_id,
		e.primary_categories AS primary_categories,
		e.primary_recipients AS primary_recipients,
		mentions
	`

	withMentions = `
		OPTIONAL MATCH (m:Mention {event_id: e.id})
		WITH e, collect({mention_date: m.mention_date, doc_ids: m.doc_ids, article_count: m.article_count}) AS mentions
	`

	GetEventQuery = `
		MATCH (e:CanonicalEvent {id: $id})
	` + withMentions + `
		RETURN ` + eventProjection

	GetChildrenQuery = `
		MATCH (e:CanonicalEvent {master_event_id: $id})
	` + withMentions + `
		RETURN ` + eventProjection + `
		ORDER BY id
	`

	ListEventsByCountryQuery = `
		MATCH (e:CanonicalEvent {initiating_country: $country})
	` + withMentions + `
		RETURN ` + eventProjection + `
		ORDER BY id
	`

	ListAllEventsQuery = `
		MATCH (e:CanonicalEvent)
	` + withMentions + `
		RETURN ` + eventProjection + `
		ORDER BY id
	`

	SnapshotQuery = `
		MATCH (e:CanonicalEvent)
		WHERE e.id IN $ids OR e.master_event_id IN $ids
	` + withMentions + `
		RETURN ` + eventProjection

	GetEventsByIDsQuery = `
		MATCH (e:CanonicalEvent)
		WHERE e.id IN $ids
	` + withMentions + `
		RETURN ` + eventProjection

	ListCountriesQuery = `
		MATCH (e:CanonicalEvent), (m:Mention)
		WHERE m.event_id = e.id AND e.initiating_country <> ""
		RETURN DISTINCT e.initiating_country AS country
		ORDER BY country
	`

	ListMentionsQuery = `
		MATCH (m:Mention {event_id: $event_id})
		RETURN m.mention_date AS mention_date, m.doc_ids AS doc_ids, m.article_count AS article_count
		ORDER BY mention_date
	`

	CreateEventQuery = `
		MERGE (e:CanonicalEvent {id: $id})
		ON CREATE SET e.canonical_name = $canonical_name,
			e.alternative_names = $alternative_names,
			e.initiating_country = $initiating_country,
			e.master_event_id = null,
			e.primary_categories = $primary_categories,
			e.primary_recipients = $primary_recipients
	`

	SetEventLabelsQuery = `
		MATCH (e:CanonicalEvent {id: $id})
		SET e.primary_categories = coalesce($primary_categories, e.primary_categories),
			e.primary_recipients = coalesce($primary_recipients, e.primary_recipients)
	`

	SaveMentionQuery = `
		MERGE (m:Mention {event_id: $event_id, mention_date: $mention_date})
		SET m.doc_ids = $doc_ids,
			m.article_count = $article_count
	`

	SetMasterQuery = `
		MATCH (e:CanonicalEvent {id: $id})
		SET e.master_event_id = $master_event_id
	`

	ReparentQuery = `
		MATCH (e:CanonicalEvent {master_event_id: $from})
		WHERE e.id <> $except
		SET e.master_event_id = $to
	`

	SetNamesQuery = `
		MATCH (e:CanonicalEvent {id: $id})
		SET e.canonical_name = $canonical_name,
			e.alternative_names = $alternative_names
	`

	// ChainedChildrenQuery lists children whose master is itself a child.
	ChainedChildrenQuery = `
		MATCH (c:CanonicalEvent {initiating_country: $country})
		WHERE c.master_event_id IS NOT NULL
		MATCH (m:CanonicalEvent {id: c.master_event_id})
		WHERE m.master_event_id IS NOT NULL
		RETURN c.id AS id
		ORDER BY id
	`
)
