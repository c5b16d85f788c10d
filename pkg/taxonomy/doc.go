/*
Package taxonomy reads and formats the terms (tags, categories and other
taxonomies) attached to content items.

Terms live in a SQLite database managed by Store. Several taxonomies share
one set of tables; an item can carry any number of terms from each, kept in
the order they were assigned. Store satisfies Source, the narrow interface
the Formatter needs, so a host with its own term storage can plug in
instead.

The Formatter turns terms into strings that are safe to drop into HTML:
comma-separated tag lists, CSS class lists and link lists. Term names are
sanitised with bluemonday's strict policy; descriptions with its UGC policy.

When a call passes item ID 0 the current item is read from the context,
see WithItem.
*/
package taxonomy
