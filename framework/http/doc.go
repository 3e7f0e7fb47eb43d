// Package http provides request and response helpers for handlers that work
// on the standard library types.
//
// # Request
//
//	req := gohttp.NewRequest(r)
//
//	var payload struct {
//	    Name string `json:"name"`
//	}
//	if err := req.Bind(&payload); err != nil { ... }
//
//	name  := req.Input("name", "default")   // query + urlencoded body, PUT included
//	page  := req.Query("page", "1")
//	body, _ := req.Body()                  // read once, shared with Bind/Form
//	id    := req.RouteParam("id")          // chi
//	token := req.BearerToken()
//
// # Response
//
//	res := gohttp.NewResponse(w)
//	res.JSON(200, data)
//	res.Success(data)             // 200 {"data": ...}
//	res.Error(400, "bad input")   // {"message": "bad input"}
//	res.ValidationError(errs)     // 422 {"errors": {"field": ["msg"]}}
//
// # Validation
//
// Structs are validated with go-playground/validator tags:
//
//	if errs := gohttp.Validate(&payload); errs != nil {
//	    res.ValidationError(errs)
//	}
//
// # ViewEngine
//
//	engine := gohttp.NewViewEngine("./views", ".html")
//	engine.View(w, "home", map[string]any{"title": "Home"})
//	engine.ViewWithLayout(w, "layouts/app", "home", data)
package http
