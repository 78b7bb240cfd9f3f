// Package docs provides generated OpenAPI documentation.
//
// audiobookd API
//
//	@title			audiobookd API
//	@version		1.0
//	@description	Audiobook generation API for ingesting chapter audio and assembling full books.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/openreader/audiobookd
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/audiobookd/serve.go -o ./swagger --parseDependency --parseInternal
