// Package cohort computes install-week retention cohorts from raw events.
//
// A player's install date is the date of their earliest event in the scanned window;
// the cohort is the ISO week (starting Monday, UTC) containing it. A player is
// dayN-retained when they have any event exactly N days after install, for N in
// {1, 7, 30}. Cohorts smaller than the minimum size are suppressed.
package cohort
