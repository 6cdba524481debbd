package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiClient() *resty.Client {
	return resty.New().SetBaseURL(apiFlag).SetTimeout(15 * time.Second)
}

func doGet(path string, query map[string]string) ([]byte, error) {
	resp, err := apiClient().R().SetQueryParams(query).Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: %s", resp.Status(), resp.Body())
	}
	return resp.Body(), nil
}

func doPost(path string, body interface{}) ([]byte, error) {
	req := apiClient().R().SetHeader("Content-Type", "application/json")
	if body != nil {
		req = req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: %s", resp.Status(), resp.Body())
	}
	return resp.Body(), nil
}
