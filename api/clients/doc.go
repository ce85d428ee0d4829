/*
Package clients provides a Go client for the gateway HTTP API.

GatewayClient covers every endpoint of package httpserver: batch upload,
catalogue queries, pin toggling, selection, content download, node status,
mode switching and DNSLink resolution. Non-2xx responses are returned as
*StatusError carrying the server's error message.

# Example Usage

	client := clients.NewGatewayClient("http://localhost:8080")

	resp, err := client.Upload(ctx, clients.UploadFile{
	    Name:     "a.txt",
	    MimeType: "text/plain",
	    Data:     []byte("hello"),
	})
	if err != nil {
	    return err
	}
	for _, r := range resp.Results {
	    if r.Record != nil {
	        fmt.Println(r.Record.CID, r.Record.GatewayURL)
	    }
	}

	pin, err := client.TogglePin(ctx, resp.Results[0].Record.ID)
*/
package clients
