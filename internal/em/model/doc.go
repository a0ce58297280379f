// Package model assembles the incidence predictors: classification heads
// that score discretized error bins, and the probabilistic head that emits
// a full bivariate Gaussian over incidence coordinates.
//
// Feature extraction is behind the Backbone interface so heads do not care
// which encoder produced their features.
package model
