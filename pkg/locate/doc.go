/*
Package locate finds fragment files for a plugin.

A lookup starts in a caller-supplied directory and falls back to the active
theme's stylesheet directory, then its template directory. Candidate names
are tried in order, and every directory is checked for one name before the
next name is considered. The first existing path wins. An empty string
means nothing matched; it is not an error.

The Resolver never caches. Theme directories are read from a ThemeSource
once per call so a host can switch themes between requests.
*/
package locate
