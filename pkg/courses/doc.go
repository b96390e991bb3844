// Package courses lets sellers author courses, modules and lessons.
package courses
