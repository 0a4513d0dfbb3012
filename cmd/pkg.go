/*
Offliner runs an offline-first caching server in front of an upstream origin. Declared
resources are prefetched into a versioned cache generation. Intercepted GET requests are
answered from the active generation, falling back to the network. A background update
check builds the next generation when the upstream publishes a new release, and the new
generation is swapped in on activation.

Usage:

	offliner [global flags] <command> [command flags]

Commands:

	serve     runs the server
	prefetch  populates the initial generation and exits
	update    runs one update cycle and exits
	activate  activates a pending generation and exits
	list      lists the configuration keys and generations
	version   displays the version

Run 'offliner <command> --help' for the flags of each command.
*/
package main
