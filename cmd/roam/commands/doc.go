// Package commands implements the roam command line.
package commands
