// Package catalog assembles the course listing and course detail views for a viewer.
package catalog
