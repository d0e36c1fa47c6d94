// Package browser is the playwright-backed tab actuator.
//
// It launches Chromium (or attaches to a running one over CDP), tracks every
// page of the browser context as a tab, runs countdown scripts inside pages
// and closes them. Pages talk back through an exposed binding
// (window.__tabSleep) whose messages are routed with the page as sender.
package browser
