/*
Package templating renders plugin fragments: html/template files that are
executed on demand and whose output is captured and returned as a string
instead of being written to the response.

Every Render call opens a capture region, executes the fragment into it and
closes the region on every exit path, including parse and execution
failures. Fragments may render other fragments with the "render" helper;
each nested call opens its own region on the same stack, so inner output is
returned to the outer fragment as a value and regions never interleave.

Fragments see a Scope as their dot:

	{{.Path}}            the fragment being rendered
	{{.Dir}}             its directory, used for relative "render" names
	{{.Data}}            the caller's data, always a slice
	{{first .Data}}      the first data element, or nil

A fragment can combine lookup and rendering:

	{{render (locate "parts" "card-event.tmpl.html" "card.tmpl.html") .Data}}

Load is the include-style counterpart used by locate.Resolver: it writes the
fragment straight to the renderer's output and honours include-once.
*/
package templating
