// Package imagegen calls the hosted image model that backs POST
// /api/generate and optionally archives the returned images.
//
// The model is reached through OpenRouter's chat-completions API. A request
// carries the user's prompt plus the input image as a data URL; the first
// image in the reply is the result. Model refusals surface as ErrRefused so
// the API can answer 400 instead of 500.
package imagegen
